package prompt

import (
	"fmt"
	"strings"

	"github.com/apresai/dualogue/internal/agent"
	"github.com/apresai/dualogue/internal/session"
)

// TurnSystem is sent as the system instruction alongside every turn prompt.
const TurnSystem = `You are role-playing one side of a two-person conversation. Stay in character at all times. Your whole reply must be a single JSON object and nothing else.`

// maxHistoryLines bounds the condensed history so long sessions do not
// overflow the model context. Older lines are summarized by count.
const maxHistoryLines = 40

// Turn builds the prompt for speaker's next utterance. It depends only on
// its arguments.
func Turn(speaker, other agent.Profile, params session.Parameters, history session.Transcript) string {
	var b strings.Builder
	soul := speaker.Soul
	persona := soul.Basic.Persona

	fmt.Fprintf(&b, "You are %s. Speak only as %s and never as anyone else.\n\n", persona.Name, persona.Name)

	b.WriteString("WHO YOU ARE (SOUL)\n")
	fmt.Fprintf(&b, "- Name: %s, age %d, %s, from %s, living in %s\n",
		persona.Name, persona.Age, persona.Gender, orUnknown(persona.Nationality), orUnknown(persona.Location))
	fmt.Fprintf(&b, "- Curiosity: %s/100\n", soul.Basic.CuriosityIndex)
	fmt.Fprintf(&b, "- Your story: %s\n", orUnknown(soul.Basic.SummaryDiary))
	sp := soul.Advanced.SocialPosition
	fmt.Fprintf(&b, "- Job: %s; finances: %s; quality of life %s/100; happiness %s/100\n",
		orUnknown(sp.Job), orUnknown(sp.FinancialStatus), sp.QualityOfLife, sp.HappinessIndex)
	fmt.Fprintf(&b, "- Relationships: %s\n\n", orUnknown(soul.Advanced.Relationships))

	ei := speaker.Matrix.EmotionIndex
	b.WriteString("YOUR CURRENT STATE (MATRIX, changes every turn)\n")
	fmt.Fprintf(&b, "- Emotion index: health %s/100, appearance %s/100, IQ %s, EQ %s, antipathy toward %s %s/100\n",
		ei.Health, ei.Appearance, ei.IQ, ei.EQ, other.Name(), ei.Antipathy)
	fmt.Fprintf(&b, "- What you intended to do this turn: %q\n", ei.NextIntention)
	mc := speaker.Matrix.MatrixConnection
	fmt.Fprintf(&b, "- Your connection to %s: connection %s/100, trust %s/100, intimacy %s/100, dependency %s/100\n\n",
		other.Name(), mc.Connection, mc.Trust, mc.Intimacy, mc.Dependency)

	f := speaker.Matrix.MatrixFavor
	b.WriteString("YOUR NATURE (FAVOR, fixed)\n")
	fmt.Fprintf(&b, "- Born %s, zodiac %s, personality type %s\n", orUnknown(f.DOB), orUnknown(f.Zodiac), orUnknown(f.PersonalityType))
	fmt.Fprintf(&b, "- Thinking style: %s\n", orUnknown(f.ThinkingStyle))
	fmt.Fprintf(&b, "- Strengths: %s; weaknesses: %s\n", orUnknown(f.Strengths), orUnknown(f.Weaknesses))
	fmt.Fprintf(&b, "- Hobbies: %s; dislikes: %s\n", orUnknown(f.Hobbies), orUnknown(f.Dislikes))
	fmt.Fprintf(&b, "- Dreams: %s\n", orUnknown(f.Dreams))
	fmt.Fprintf(&b, "- Core beliefs: %s\n", orUnknown(f.CoreBeliefs))
	fmt.Fprintf(&b, "- Life philosophy: %s\n", orUnknown(f.LifePhilosophy))
	fmt.Fprintf(&b, "- Past trauma: %s\n\n", orUnknown(f.PastTrauma))

	b.WriteString("CONVERSATION CONTEXT\n")
	fmt.Fprintf(&b, "You are talking with %s (%s). Your relationship: %s.\n",
		other.Name(), other.Soul.Basic.Persona.Gender, orUnknown(params.Relationship))
	if params.Pronouns != "" {
		fmt.Fprintf(&b, "Address each other using this pronoun convention: %s.\n", params.Pronouns)
	}
	b.WriteString("\n")

	if last, ok := history.Last(); ok {
		fmt.Fprintf(&b, "The last message, from %s, was: %q. Continue the conversation by responding to it.\n", last.Speaker, last.Text)
		writeHistory(&b, history[:len(history)-1])
	} else {
		fmt.Fprintf(&b, "The topic is %q. You speak first: open the conversation.\n", params.Topic)
	}
	if !params.DeepInteraction {
		fmt.Fprintf(&b, "Stay focused on the main topic of the conversation: %q.\n", params.Topic)
	}

	b.WriteString("\nOUTPUT (MANDATORY)\n")
	b.WriteString("Reply with a single JSON object, with no text around it, containing:\n")
	fmt.Fprintf(&b, "1. \"message\": (string) what you say. Language: %s. At most %d words.\n", params.Language.Instruction(), params.MaxWords)
	b.WriteString("2. \"personality\": (object) your UPDATED dynamic state after this exchange, with two fields:\n")
	b.WriteString("   - \"emotionIndex\": (object) health, appearance, iq, eq, antipathy.\n")
	b.WriteString("   - \"matrixConnection\": (object) connection, trust, intimacy, dependency.\n")
	b.WriteString("3. \"nextIntention\": (string) what you intend to do next, for example \"ask about their past\", \"show empathy\", \"change the subject\", \"end the conversation\".\n")

	return b.String()
}

func writeHistory(b *strings.Builder, earlier session.Transcript) {
	if len(earlier) == 0 {
		return
	}
	b.WriteString("Earlier in the conversation:\n")
	if omitted := len(earlier) - maxHistoryLines; omitted > 0 {
		fmt.Fprintf(b, "(%d earlier messages omitted)\n", omitted)
		earlier = earlier[omitted:]
	}
	for _, m := range earlier {
		fmt.Fprintf(b, "%s: %s\n", m.Speaker, condense(m.Text))
	}
}

// condense folds a message onto one line.
func condense(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "unknown"
	}
	return s
}
