package session

import (
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/apresai/dualogue/internal/agent"
)

var ErrUnknownAgent = errors.New("unknown agent slot")

// NewID generates a ULID for a new session.
func NewID() (string, error) {
	id, err := ulid.New(ulid.Timestamp(time.Now()), rand.Reader)
	if err != nil {
		return "", fmt.Errorf("generate ulid: %w", err)
	}
	return id.String(), nil
}

// Session is the agent state store: two profiles, the shared parameters and
// the transcript. All access is serialized by an internal mutex, and all
// profile mutation goes through Commit or Apply.
type Session struct {
	mu         sync.Mutex
	id         string
	params     Parameters
	agents     [2]agent.Profile
	keys       [2]string
	transcript Transcript
	elapsed    time.Duration
	createdAt  time.Time
	// theme is the UI theme of an imported document, written back on export.
	theme string
}

// New creates a session with a fresh ID.
func New(params Parameters, agent1, agent2 agent.Profile) (*Session, error) {
	id, err := NewID()
	if err != nil {
		return nil, err
	}
	return &Session{
		id:        id,
		params:    params,
		agents:    [2]agent.Profile{agent1, agent2},
		createdAt: time.Now().UTC(),
	}, nil
}

// NewDefault creates a session with default parameters and the built-in agents.
func NewDefault() (*Session, error) {
	return New(DefaultParameters(), agent.DefaultAgent1(), agent.DefaultAgent2())
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

func index(slot int) (int, error) {
	if slot != 1 && slot != 2 {
		return 0, fmt.Errorf("%w: %d", ErrUnknownAgent, slot)
	}
	return slot - 1, nil
}

// Other returns the slot of the counterpart of slot.
func Other(slot int) int {
	if slot == 1 {
		return 2
	}
	return 1
}

// State is a consistent copy of a session taken under its lock.
type State struct {
	ID         string
	Params     Parameters
	Agents     [2]agent.Profile
	Transcript Transcript
	Elapsed    time.Duration
}

// Agent returns the profile in slot (1 or 2).
func (st State) Agent(slot int) agent.Profile {
	if slot == 2 {
		return st.Agents[1]
	}
	return st.Agents[0]
}

// NextSlot is the slot that speaks next.
func (st State) NextSlot() int {
	return st.Transcript.NextSlot(st.Agents[0].Name(), st.Agents[1].Name())
}

// Snapshot returns a copy of the session safe to read without locking.
func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{
		ID:         s.id,
		Params:     s.params,
		Agents:     s.agents,
		Transcript: append(Transcript(nil), s.transcript...),
		Elapsed:    s.elapsed,
	}
}

func (s *Session) Params() Parameters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params
}

// SetParams replaces the parameters after validating everything except the
// topic, which may still be empty while a session is being configured.
func (s *Session) SetParams(p Parameters) error {
	if err := (ParamsPatch{MaxWords: &p.MaxWords, Exchanges: &p.Exchanges}).validate(); err != nil {
		return err
	}
	if !p.Language.Valid() {
		return fmt.Errorf("unsupported language %q", p.Language)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.params = p
	return nil
}

func (s *Session) Profile(slot int) (agent.Profile, error) {
	i, err := index(slot)
	if err != nil {
		return agent.Profile{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agents[i], nil
}

// APIKey returns the provider credential configured for slot, or "".
func (s *Session) APIKey(slot int) string {
	i, err := index(slot)
	if err != nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keys[i]
}

func (s *Session) SetAPIKey(slot int, key string) error {
	i, err := index(slot)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[i] = key
	return nil
}

func (s *Session) Transcript() Transcript {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append(Transcript(nil), s.transcript...)
}

func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.transcript)
}

// Commit records one agent turn: the delta is merged into the speaker's
// profile and the message is appended with a snapshot of the merged state.
// Both happen under the same lock.
func (s *Session) Commit(slot int, text string, delta agent.Patch) (Message, error) {
	i, err := index(slot)
	if err != nil {
		return Message{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p := &s.agents[i]
	agent.Apply(p, delta)
	ei := p.Matrix.EmotionIndex
	mc := p.Matrix.MatrixConnection
	msg := Message{
		Speaker:          p.Name(),
		Slot:             slot,
		Text:             text,
		EmotionIndex:     &ei,
		MatrixConnection: &mc,
		At:               time.Now().UTC(),
	}
	s.transcript = append(s.transcript, msg)
	return msg, nil
}

// Note appends a message from a sentinel speaker such as the narrator.
func (s *Session) Note(speaker, text string) Message {
	msg := Message{Speaker: speaker, Text: text, At: time.Now().UTC()}
	s.mu.Lock()
	s.transcript = append(s.transcript, msg)
	s.mu.Unlock()
	return msg
}

// Patch is a partial update of a whole session.
type Patch struct {
	Params ParamsPatch
	Agent1 *agent.Patch
	Agent2 *agent.Patch
}

// Validate reports the first value in p that could not be stored.
func (p Patch) Validate() error {
	if err := p.Params.validate(); err != nil {
		return err
	}
	for i, ap := range []*agent.Patch{p.Agent1, p.Agent2} {
		if ap == nil {
			continue
		}
		if err := ap.Validate(); err != nil {
			return fmt.Errorf("agent %d: %w", i+1, err)
		}
	}
	return nil
}

// Apply merges p into the session. Nothing is written unless the whole patch
// validates. When note is non-empty it is appended as a narrator message in
// the same critical section. The returned paths name every written field.
func (s *Session) Apply(p Patch, note string) ([]string, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("validate patch: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	changed := p.Params.apply(&s.params)
	for i, ap := range []*agent.Patch{p.Agent1, p.Agent2} {
		if ap == nil {
			continue
		}
		for _, path := range agent.Apply(&s.agents[i], *ap) {
			changed = append(changed, fmt.Sprintf("agent%dProfile.%s", i+1, path))
		}
	}
	if note != "" {
		s.transcript = append(s.transcript, Message{Speaker: SpeakerNarrator, Text: note, At: time.Now().UTC()})
	}
	return changed, nil
}

// Reset restores both default agents and clears the transcript and run
// clock. Parameters and credentials are kept.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents = [2]agent.Profile{agent.DefaultAgent1(), agent.DefaultAgent2()}
	s.transcript = nil
	s.elapsed = 0
}

// ReplaceProfiles swaps in both profiles wholesale, as when loading a
// profiles file.
func (s *Session) ReplaceProfiles(agent1, agent2 agent.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents = [2]agent.Profile{agent1, agent2}
}

// AddElapsed accumulates run time.
func (s *Session) AddElapsed(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.elapsed += d
}

func (s *Session) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.elapsed
}
