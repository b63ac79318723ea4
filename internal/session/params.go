package session

import (
	"errors"
	"fmt"
	"strings"
)

// Language is the output language the agents are asked to speak.
type Language string

const (
	English    Language = "en"
	Vietnamese Language = "vi"
)

// Valid reports whether l is a supported language tag.
func (l Language) Valid() bool {
	return l == English || l == Vietnamese
}

// Instruction is the phrase used in prompts to request output in l.
func (l Language) Instruction() string {
	if l == Vietnamese {
		return "Vietnamese"
	}
	return "English"
}

// SecondsPerWord is the simulated reading pace of leisurely runs.
const SecondsPerWord = 0.4

// Parameters are the shared, session-wide knobs of a dialogue.
type Parameters struct {
	Topic           string   `json:"topic"`
	Relationship    string   `json:"relationship"`
	Pronouns        string   `json:"pronouns"`
	Temperature     float64  `json:"temperature"`
	MaxWords        int      `json:"maxWords"`
	Exchanges       int      `json:"exchanges"`
	Language        Language `json:"language"`
	LeisurelyPacing bool     `json:"leisurelyChat"`
	DeepInteraction bool     `json:"deepInteraction"`
}

// DefaultParameters returns the parameters of a fresh session. Topic is left
// empty; a run refuses to start until one is set.
func DefaultParameters() Parameters {
	return Parameters{
		Temperature:     0.7,
		MaxWords:        250,
		Exchanges:       5,
		Language:        English,
		LeisurelyPacing: true,
		DeepInteraction: true,
	}
}

var ErrNoTopic = errors.New("topic is required")

// Validate checks the parameters a run depends on. Temperature is advisory
// and passed through to the provider unchecked.
func (p Parameters) Validate() error {
	if strings.TrimSpace(p.Topic) == "" {
		return ErrNoTopic
	}
	if p.MaxWords <= 0 {
		return fmt.Errorf("max words must be positive, got %d", p.MaxWords)
	}
	if p.Exchanges <= 0 {
		return fmt.Errorf("exchanges must be positive, got %d", p.Exchanges)
	}
	if !p.Language.Valid() {
		return fmt.Errorf("unsupported language %q", p.Language)
	}
	return nil
}

// ParamsPatch is a partial update of Parameters. Nil fields are untouched.
type ParamsPatch struct {
	Topic        *string  `json:"topic,omitempty"`
	Relationship *string  `json:"relationship,omitempty"`
	Pronouns     *string  `json:"pronouns,omitempty"`
	Temperature  *float64 `json:"temperature,omitempty"`
	MaxWords     *int     `json:"maxWords,omitempty"`
	Exchanges    *int     `json:"exchanges,omitempty"`
}

func (pp ParamsPatch) apply(p *Parameters) []string {
	var changed []string
	if pp.Topic != nil {
		p.Topic = *pp.Topic
		changed = append(changed, "topic")
	}
	if pp.Relationship != nil {
		p.Relationship = *pp.Relationship
		changed = append(changed, "relationship")
	}
	if pp.Pronouns != nil {
		p.Pronouns = *pp.Pronouns
		changed = append(changed, "pronouns")
	}
	if pp.Temperature != nil {
		p.Temperature = *pp.Temperature
		changed = append(changed, "temperature")
	}
	if pp.MaxWords != nil {
		p.MaxWords = *pp.MaxWords
		changed = append(changed, "maxWords")
	}
	if pp.Exchanges != nil {
		p.Exchanges = *pp.Exchanges
		changed = append(changed, "exchanges")
	}
	return changed
}

func (pp ParamsPatch) validate() error {
	if pp.MaxWords != nil && *pp.MaxWords <= 0 {
		return fmt.Errorf("max words must be positive, got %d", *pp.MaxWords)
	}
	if pp.Exchanges != nil && *pp.Exchanges <= 0 {
		return fmt.Errorf("exchanges must be positive, got %d", *pp.Exchanges)
	}
	return nil
}
