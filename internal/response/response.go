package response

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/apresai/dualogue/internal/agent"
	"github.com/apresai/dualogue/internal/llm"
)

var (
	// ErrNoText means nothing usable as an utterance came back.
	ErrNoText = errors.New("no text produced")
	// ErrNoJSON means the reply contained no JSON object at all.
	ErrNoJSON = errors.New("no JSON object found")
	// ErrMalformed means a JSON object was found but could not be decoded.
	ErrMalformed = errors.New("malformed JSON object")
)

var (
	fenceRe      = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*\n?(.*?)\n?```")
	scratchpadRe = regexp.MustCompile(`(?s)<(scratchpad|think|thinking)>.*?</(scratchpad|think|thinking)>`)
)

func stripScratchpad(text string) string {
	return scratchpadRe.ReplaceAllString(text, "")
}

// Object locates the JSON object in a generation result. Structured results
// are returned as is. Text is searched for a fenced block first and then for
// a bare object spanning the first '{' to the last '}'.
func Object(res llm.Result) (json.RawMessage, error) {
	if res.Kind == llm.KindStructured {
		if !json.Valid(res.Structured) {
			return nil, fmt.Errorf("%w: structured result is not valid JSON", ErrMalformed)
		}
		return res.Structured, nil
	}

	text := stripScratchpad(res.Text)
	if m := fenceRe.FindStringSubmatch(text); len(m) > 1 && strings.Contains(m[1], "{") {
		return decodeCandidate(m[1])
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, ErrNoJSON
	}
	return decodeCandidate(text[start : end+1])
}

func decodeCandidate(s string) (json.RawMessage, error) {
	s = strings.TrimSpace(s)
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return json.RawMessage(s), nil
}

// Reply is a parsed turn.
type Reply struct {
	Utterance string
	Delta     agent.Delta
	// Unparsed is set when no JSON could be recovered. Utterance then holds
	// the raw text and Delta is empty.
	Unparsed bool
	// Dropped names delta sections or section.field values that were present
	// but undecodable.
	Dropped []string
}

type turnPayload struct {
	Message       json.RawMessage `json:"message"`
	Personality   json.RawMessage `json:"personality"`
	NextIntention json.RawMessage `json:"nextIntention"`
}

// Parse decodes a turn reply. Missing fields are simply absent from the
// delta. It returns ErrNoText when no utterance can be recovered.
func Parse(res llm.Result) (Reply, error) {
	raw, err := Object(res)
	if err != nil {
		text := strings.TrimSpace(stripScratchpad(res.Text))
		if text == "" {
			return Reply{}, ErrNoText
		}
		return Reply{Utterance: text, Unparsed: true}, nil
	}

	var p turnPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Reply{}, fmt.Errorf("decode turn: %w", err)
	}

	var reply Reply
	var msg string
	if len(p.Message) > 0 && json.Unmarshal(p.Message, &msg) == nil {
		reply.Utterance = strings.TrimSpace(msg)
	}
	if reply.Utterance == "" {
		return Reply{}, ErrNoText
	}

	if len(p.Personality) > 0 && string(p.Personality) != "null" {
		var sections map[string]json.RawMessage
		if err := json.Unmarshal(p.Personality, &sections); err != nil {
			reply.Dropped = append(reply.Dropped, "personality")
		} else {
			if b, ok := sections["emotionIndex"]; ok {
				var e agent.EmotionPatch
				if fields, err := sectionFields(b); err != nil {
					reply.Dropped = append(reply.Dropped, "emotionIndex")
				} else {
					set, dropped := decodeScores(fields, "emotionIndex", map[string]**agent.Score{
						"health":     &e.Health,
						"appearance": &e.Appearance,
						"iq":         &e.IQ,
						"eq":         &e.EQ,
						"antipathy":  &e.Antipathy,
					})
					reply.Dropped = append(reply.Dropped, dropped...)
					var intent string
					if json.Unmarshal(fields["nextIntention"], &intent) == nil && strings.TrimSpace(intent) != "" {
						e.NextIntention = &intent
						set = true
					}
					if set {
						reply.Delta.EmotionIndex = &e
					}
				}
			}
			if b, ok := sections["matrixConnection"]; ok {
				var c agent.ConnectionPatch
				if fields, err := sectionFields(b); err != nil {
					reply.Dropped = append(reply.Dropped, "matrixConnection")
				} else {
					set, dropped := decodeScores(fields, "matrixConnection", map[string]**agent.Score{
						"connection": &c.Connection,
						"trust":      &c.Trust,
						"intimacy":   &c.Intimacy,
						"dependency": &c.Dependency,
					})
					reply.Dropped = append(reply.Dropped, dropped...)
					if set {
						reply.Delta.MatrixConnection = &c
					}
				}
			}
		}
	}

	var intent string
	if len(p.NextIntention) > 0 && json.Unmarshal(p.NextIntention, &intent) == nil && strings.TrimSpace(intent) != "" {
		reply.Delta.NextIntention = &intent
	}
	return reply, nil
}

func sectionFields(raw json.RawMessage) (map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// decodeScores fills dst from the fields of one personality section. A
// field that does not decode is reported as section.field and skipped, so
// the rest of the section still applies.
func decodeScores(fields map[string]json.RawMessage, section string, dst map[string]**agent.Score) (set bool, dropped []string) {
	for name, ptr := range dst {
		b, ok := fields[name]
		if !ok || string(bytes.TrimSpace(b)) == "null" {
			continue
		}
		var v agent.Score
		if err := json.Unmarshal(b, &v); err != nil {
			dropped = append(dropped, section+"."+name)
			continue
		}
		*ptr = &v
		set = true
	}
	sort.Strings(dropped)
	return set, dropped
}
