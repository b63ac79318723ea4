package prompt

import (
	"fmt"

	"github.com/apresai/dualogue/internal/session"
)

// Diary asks for a narrative backstory built from a short description.
func Diary(description string, lang session.Language) string {
	return fmt.Sprintf(`You generate a rich, narrative summary diary for a fictional character based on a description.
The diary should capture the key life events, memories, relationships and traumas that shaped them.
Base the summary diary on the following description: %s
The diary MUST be written in %s.
Reply with the diary text only.`, description, lang.Instruction())
}

// Starter asks for a single opening line on topic.
func Starter(topic string) string {
	return fmt.Sprintf(`You are helping two AI agents start a conversation.
Based on the topic below, write one suitable conversation starter. Reply with the starter text only.

Topic: %s`, topic)
}
