package session

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/apresai/dualogue/internal/agent"
)

// Slider is a numeric setting. Older exports stored sliders as one-element
// arrays ([0.7]); both forms decode, and encoding always writes a number.
type Slider float64

func (v *Slider) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var arr []float64
		if err := json.Unmarshal(data, &arr); err != nil {
			return fmt.Errorf("decode slider: %w", err)
		}
		if len(arr) == 0 {
			return errors.New("decode slider: empty array")
		}
		*v = Slider(arr[0])
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("decode slider: %w", err)
	}
	*v = Slider(f)
	return nil
}

// Document is the exported form of a session.
type Document struct {
	ID              string         `json:"id,omitempty"`
	Topic           string         `json:"topic"`
	Relationship    string         `json:"relationship"`
	Pronouns        string         `json:"pronouns"`
	Agent1Profile   *agent.Profile `json:"agent1Profile,omitempty"`
	Agent2Profile   *agent.Profile `json:"agent2Profile,omitempty"`
	Temperature     *Slider        `json:"temperature,omitempty"`
	MaxWords        *Slider        `json:"maxWords,omitempty"`
	Exchanges       *Slider        `json:"exchanges,omitempty"`
	ChatLog         Transcript     `json:"chatLog"`
	Language        Language       `json:"language,omitempty"`
	ElapsedTime     float64        `json:"elapsedTime"`
	Theme           string         `json:"theme,omitempty"`
	LeisurelyChat   *bool          `json:"leisurelyChat,omitempty"`
	DeepInteraction *bool          `json:"deepInteraction,omitempty"`
	APIKey          string         `json:"apiKey,omitempty"`
	APIKey2         string         `json:"apiKey2,omitempty"`
}

// Export captures the session as a document. Credentials are only included
// when includeKeys is set.
func (s *Session) Export(includeKeys bool) Document {
	s.mu.Lock()
	defer s.mu.Unlock()

	a1, a2 := s.agents[0], s.agents[1]
	temp := Slider(s.params.Temperature)
	words := Slider(s.params.MaxWords)
	exchanges := Slider(s.params.Exchanges)
	leisurely := s.params.LeisurelyPacing
	deep := s.params.DeepInteraction
	doc := Document{
		ID:              s.id,
		Topic:           s.params.Topic,
		Relationship:    s.params.Relationship,
		Pronouns:        s.params.Pronouns,
		Agent1Profile:   &a1,
		Agent2Profile:   &a2,
		Temperature:     &temp,
		MaxWords:        &words,
		Exchanges:       &exchanges,
		ChatLog:         append(Transcript{}, s.transcript...),
		Language:        s.params.Language,
		ElapsedTime:     s.elapsed.Seconds(),
		Theme:           s.theme,
		LeisurelyChat:   &leisurely,
		DeepInteraction: &deep,
	}
	if includeKeys {
		doc.APIKey = s.keys[0]
		doc.APIKey2 = s.keys[1]
	}
	return doc
}

// FromDocument rebuilds a session. Missing fields fall back to the defaults
// of a fresh session.
func FromDocument(doc Document) (*Session, error) {
	params := DefaultParameters()
	params.Topic = doc.Topic
	params.Relationship = doc.Relationship
	params.Pronouns = doc.Pronouns
	if doc.Temperature != nil {
		params.Temperature = float64(*doc.Temperature)
	}
	if doc.MaxWords != nil {
		params.MaxWords = int(*doc.MaxWords)
	}
	if doc.Exchanges != nil {
		params.Exchanges = int(*doc.Exchanges)
	}
	if doc.Language != "" {
		params.Language = doc.Language
	}
	if doc.LeisurelyChat != nil {
		params.LeisurelyPacing = *doc.LeisurelyChat
	}
	if doc.DeepInteraction != nil {
		params.DeepInteraction = *doc.DeepInteraction
	}

	a1, a2 := agent.DefaultAgent1(), agent.DefaultAgent2()
	if doc.Agent1Profile != nil {
		a1 = *doc.Agent1Profile
	}
	if doc.Agent2Profile != nil {
		a2 = *doc.Agent2Profile
	}

	s, err := New(DefaultParameters(), a1, a2)
	if err != nil {
		return nil, err
	}
	if err := s.SetParams(params); err != nil {
		return nil, fmt.Errorf("session parameters: %w", err)
	}
	if doc.ID != "" {
		s.id = doc.ID
	}
	s.transcript = append(Transcript(nil), doc.ChatLog...)
	s.elapsed = time.Duration(doc.ElapsedTime * float64(time.Second))
	s.keys = [2]string{doc.APIKey, doc.APIKey2}
	s.theme = doc.Theme
	return s, nil
}

// Marshal encodes the session as indented JSON.
func (s *Session) Marshal(includeKeys bool) ([]byte, error) {
	data, err := json.MarshalIndent(s.Export(includeKeys), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal session: %w", err)
	}
	return data, nil
}

// Unmarshal decodes a session document.
func Unmarshal(data []byte) (*Session, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse session: %w", err)
	}
	return FromDocument(doc)
}

func Save(s *Session, path string, includeKeys bool) error {
	data, err := s.Marshal(includeKeys)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write session to %s: %w", path, err)
	}
	return nil
}

func Load(path string) (*Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read session from %s: %w", path, err)
	}
	s, err := Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return s, nil
}

// Profiles is the profiles-only export: both agents without the transcript.
type Profiles struct {
	Agent1Profile *agent.Profile `json:"agent1Profile"`
	Agent2Profile *agent.Profile `json:"agent2Profile"`
}

var ErrInvalidProfiles = errors.New("profiles file must contain agent1Profile and agent2Profile")

func SaveProfiles(s *Session, path string) error {
	st := s.Snapshot()
	data, err := json.MarshalIndent(Profiles{Agent1Profile: &st.Agents[0], Agent2Profile: &st.Agents[1]}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal profiles: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write profiles to %s: %w", path, err)
	}
	return nil
}

// LoadProfiles reads a profiles file. Both profiles must be present.
func LoadProfiles(path string) (agent.Profile, agent.Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return agent.Profile{}, agent.Profile{}, fmt.Errorf("read profiles from %s: %w", path, err)
	}
	var p Profiles
	if err := json.Unmarshal(data, &p); err != nil {
		return agent.Profile{}, agent.Profile{}, fmt.Errorf("parse profiles from %s: %w", path, err)
	}
	if p.Agent1Profile == nil || p.Agent2Profile == nil {
		return agent.Profile{}, agent.Profile{}, fmt.Errorf("load %s: %w", path, ErrInvalidProfiles)
	}
	return *p.Agent1Profile, *p.Agent2Profile, nil
}
