package persona

import (
	_ "embed"
	"fmt"
	"math/rand"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/apresai/dualogue/internal/agent"
)

//go:embed presets.yaml
var presetsYAML []byte

// Preset is a named, ready-made agent profile.
type Preset struct {
	ID      string        `yaml:"id"`
	Title   string        `yaml:"title"`
	Profile agent.Profile `yaml:"profile"`
}

// Library holds presets by ID.
type Library struct {
	presets map[string]Preset
}

type presetFile struct {
	Presets []Preset `yaml:"presets"`
}

// NewLibrary loads the embedded presets.
func NewLibrary() (*Library, error) {
	l := &Library{presets: make(map[string]Preset)}
	if err := l.add(presetsYAML); err != nil {
		return nil, fmt.Errorf("load embedded presets: %w", err)
	}
	return l, nil
}

// LoadFile adds the presets in a YAML file, replacing any with the same ID.
func (l *Library) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read presets from %s: %w", path, err)
	}
	if err := l.add(data); err != nil {
		return fmt.Errorf("load presets from %s: %w", path, err)
	}
	return nil
}

func (l *Library) add(data []byte) error {
	var f presetFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("unmarshal presets: %w", err)
	}
	for i, p := range f.Presets {
		if p.ID == "" {
			return fmt.Errorf("preset %d has no id", i)
		}
		if !p.Profile.Soul.Basic.Persona.Gender.Valid() {
			return fmt.Errorf("preset %q has invalid gender %q", p.ID, p.Profile.Soul.Basic.Persona.Gender)
		}
		l.presets[p.ID] = p
	}
	return nil
}

// Get returns the preset with id.
func (l *Library) Get(id string) (Preset, error) {
	p, ok := l.presets[id]
	if !ok {
		return Preset{}, fmt.Errorf("preset %q not found", id)
	}
	return p, nil
}

// All returns every preset sorted by ID.
func (l *Library) All() []Preset {
	out := make([]Preset, 0, len(l.presets))
	for _, p := range l.presets {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RandomPair picks two distinct presets.
func (l *Library) RandomPair(r *rand.Rand) (Preset, Preset, error) {
	all := l.All()
	if len(all) < 2 {
		return Preset{}, Preset{}, fmt.Errorf("need at least two presets, have %d", len(all))
	}
	i := r.Intn(len(all))
	j := r.Intn(len(all) - 1)
	if j >= i {
		j++
	}
	return all[i], all[j], nil
}
