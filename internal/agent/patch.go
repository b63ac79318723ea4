package agent

import (
	"fmt"
	"math"
)

// Patch is a partial profile. Nil fields are left untouched by Apply; any
// present field replaces the stored value, so a sub-object is merged one
// field at a time rather than wholesale.
type Patch struct {
	Soul   *SoulPatch   `json:"soul,omitempty"`
	Matrix *MatrixPatch `json:"matrix,omitempty"`
}

type SoulPatch struct {
	Basic    *BasicPatch    `json:"basic,omitempty"`
	Advanced *AdvancedPatch `json:"advanced,omitempty"`
}

type BasicPatch struct {
	Persona        *PersonaPatch `json:"persona,omitempty"`
	CuriosityIndex *Score        `json:"curiosityIndex,omitempty"`
	SummaryDiary   *string       `json:"summaryDiary,omitempty"`
}

type PersonaPatch struct {
	Name        *string `json:"name,omitempty"`
	Age         *Score  `json:"age,omitempty"`
	Gender      *Gender `json:"gender,omitempty"`
	Nationality *string `json:"nationality,omitempty"`
	Location    *string `json:"location,omitempty"`
}

type AdvancedPatch struct {
	SocialPosition *SocialPositionPatch `json:"socialPosition,omitempty"`
	Relationships  *string              `json:"relationships,omitempty"`
}

type SocialPositionPatch struct {
	Job             *string `json:"job,omitempty"`
	FinancialStatus *string `json:"financialStatus,omitempty"`
	QualityOfLife   *Score  `json:"qualityOfLife,omitempty"`
	HappinessIndex  *Score  `json:"happinessIndex,omitempty"`
}

type MatrixPatch struct {
	EmotionIndex     *EmotionPatch    `json:"emotionIndex,omitempty"`
	MatrixConnection *ConnectionPatch `json:"matrixConnection,omitempty"`
	MatrixFavor      *FavorPatch      `json:"matrixFavor,omitempty"`
}

type EmotionPatch struct {
	Health        *Score  `json:"health,omitempty"`
	Appearance    *Score  `json:"appearance,omitempty"`
	IQ            *Score  `json:"iq,omitempty"`
	EQ            *Score  `json:"eq,omitempty"`
	Antipathy     *Score  `json:"antipathy,omitempty"`
	NextIntention *string `json:"nextIntention,omitempty"`
}

type ConnectionPatch struct {
	Connection *Score `json:"connection,omitempty"`
	Trust      *Score `json:"trust,omitempty"`
	Intimacy   *Score `json:"intimacy,omitempty"`
	Dependency *Score `json:"dependency,omitempty"`
}

type FavorPatch struct {
	DOB             *string `json:"dob,omitempty"`
	Zodiac          *string `json:"zodiac,omitempty"`
	PersonalityType *string `json:"personalityType,omitempty"`
	ThinkingStyle   *string `json:"thinkingStyle,omitempty"`
	Strengths       *string `json:"strengths,omitempty"`
	Weaknesses      *string `json:"weaknesses,omitempty"`
	Hobbies         *string `json:"hobbies,omitempty"`
	Dislikes        *string `json:"dislikes,omitempty"`
	Dreams          *string `json:"dreams,omitempty"`
	CoreBeliefs     *string `json:"coreBeliefs,omitempty"`
	LifePhilosophy  *string `json:"lifePhilosophy,omitempty"`
	PastTrauma      *string `json:"pastTrauma,omitempty"`
}

// IsEmpty reports whether applying p would be a no-op.
func (p Patch) IsEmpty() bool {
	return len(Apply(new(Profile), p)) == 0
}

// Validate rejects values that cannot be stored even after clamping.
func (p Patch) Validate() error {
	if p.Soul == nil || p.Soul.Basic == nil || p.Soul.Basic.Persona == nil {
		return nil
	}
	pp := p.Soul.Basic.Persona
	if pp.Gender != nil && !pp.Gender.Valid() {
		return fmt.Errorf("invalid gender %q: want %q or %q", *pp.Gender, GenderMale, GenderFemale)
	}
	if pp.Age != nil && (math.IsNaN(float64(*pp.Age)) || *pp.Age < 0) {
		return fmt.Errorf("invalid age %s", pp.Age)
	}
	return nil
}

// Apply merges patch into dst field by field and returns the dotted paths
// of the fields that were written. Percentage scores are clamped to
// [0,100]; iq and eq to [0,300].
//
// Apply is the only place profile state is mutated. Turn deltas and
// narrator edits both go through it.
func Apply(dst *Profile, patch Patch) []string {
	var w writer
	if s := patch.Soul; s != nil {
		if b := s.Basic; b != nil {
			if pp := b.Persona; pp != nil {
				persona := &dst.Soul.Basic.Persona
				w.str(&persona.Name, pp.Name, "soul.basic.persona.name")
				if pp.Age != nil {
					persona.Age = int(math.Round(float64(clamp(*pp.Age, 0, 150))))
					w.mark("soul.basic.persona.age")
				}
				if pp.Gender != nil {
					persona.Gender = *pp.Gender
					w.mark("soul.basic.persona.gender")
				}
				w.str(&persona.Nationality, pp.Nationality, "soul.basic.persona.nationality")
				w.str(&persona.Location, pp.Location, "soul.basic.persona.location")
			}
			w.pct(&dst.Soul.Basic.CuriosityIndex, b.CuriosityIndex, "soul.basic.curiosityIndex")
			w.str(&dst.Soul.Basic.SummaryDiary, b.SummaryDiary, "soul.basic.summaryDiary")
		}
		if a := s.Advanced; a != nil {
			if sp := a.SocialPosition; sp != nil {
				pos := &dst.Soul.Advanced.SocialPosition
				w.str(&pos.Job, sp.Job, "soul.advanced.socialPosition.job")
				w.str(&pos.FinancialStatus, sp.FinancialStatus, "soul.advanced.socialPosition.financialStatus")
				w.pct(&pos.QualityOfLife, sp.QualityOfLife, "soul.advanced.socialPosition.qualityOfLife")
				w.pct(&pos.HappinessIndex, sp.HappinessIndex, "soul.advanced.socialPosition.happinessIndex")
			}
			w.str(&dst.Soul.Advanced.Relationships, a.Relationships, "soul.advanced.relationships")
		}
	}

	if m := patch.Matrix; m != nil {
		if e := m.EmotionIndex; e != nil {
			ei := &dst.Matrix.EmotionIndex
			w.pct(&ei.Health, e.Health, "matrix.emotionIndex.health")
			w.pct(&ei.Appearance, e.Appearance, "matrix.emotionIndex.appearance")
			w.score(&ei.IQ, e.IQ, quotientMin, quotientMax, "matrix.emotionIndex.iq")
			w.score(&ei.EQ, e.EQ, quotientMin, quotientMax, "matrix.emotionIndex.eq")
			w.pct(&ei.Antipathy, e.Antipathy, "matrix.emotionIndex.antipathy")
			w.str(&ei.NextIntention, e.NextIntention, "matrix.emotionIndex.nextIntention")
		}
		if c := m.MatrixConnection; c != nil {
			mc := &dst.Matrix.MatrixConnection
			w.pct(&mc.Connection, c.Connection, "matrix.matrixConnection.connection")
			w.pct(&mc.Trust, c.Trust, "matrix.matrixConnection.trust")
			w.pct(&mc.Intimacy, c.Intimacy, "matrix.matrixConnection.intimacy")
			w.pct(&mc.Dependency, c.Dependency, "matrix.matrixConnection.dependency")
		}
		if f := m.MatrixFavor; f != nil {
			mf := &dst.Matrix.MatrixFavor
			w.str(&mf.DOB, f.DOB, "matrix.matrixFavor.dob")
			w.str(&mf.Zodiac, f.Zodiac, "matrix.matrixFavor.zodiac")
			w.str(&mf.PersonalityType, f.PersonalityType, "matrix.matrixFavor.personalityType")
			w.str(&mf.ThinkingStyle, f.ThinkingStyle, "matrix.matrixFavor.thinkingStyle")
			w.str(&mf.Strengths, f.Strengths, "matrix.matrixFavor.strengths")
			w.str(&mf.Weaknesses, f.Weaknesses, "matrix.matrixFavor.weaknesses")
			w.str(&mf.Hobbies, f.Hobbies, "matrix.matrixFavor.hobbies")
			w.str(&mf.Dislikes, f.Dislikes, "matrix.matrixFavor.dislikes")
			w.str(&mf.Dreams, f.Dreams, "matrix.matrixFavor.dreams")
			w.str(&mf.CoreBeliefs, f.CoreBeliefs, "matrix.matrixFavor.coreBeliefs")
			w.str(&mf.LifePhilosophy, f.LifePhilosophy, "matrix.matrixFavor.lifePhilosophy")
			w.str(&mf.PastTrauma, f.PastTrauma, "matrix.matrixFavor.pastTrauma")
		}
	}
	return w.paths
}

type writer struct {
	paths []string
}

func (w *writer) mark(path string) {
	w.paths = append(w.paths, path)
}

func (w *writer) str(dst *string, src *string, path string) {
	if src == nil {
		return
	}
	*dst = *src
	w.mark(path)
}

func (w *writer) pct(dst *Score, src *Score, path string) {
	w.score(dst, src, percentMin, percentMax, path)
}

func (w *writer) score(dst *Score, src *Score, lo, hi float64, path string) {
	if src == nil || math.IsNaN(float64(*src)) {
		return
	}
	*dst = clamp(*src, lo, hi)
	w.mark(path)
}

// Delta is the state change a speaker reports alongside an utterance.
type Delta struct {
	EmotionIndex     *EmotionPatch    `json:"emotionIndex,omitempty"`
	MatrixConnection *ConnectionPatch `json:"matrixConnection,omitempty"`
	NextIntention    *string          `json:"nextIntention,omitempty"`
}

// Patch converts d into a matrix patch. A top-level next intention takes
// precedence over one nested in the emotion index.
func (d Delta) Patch() Patch {
	if d.EmotionIndex == nil && d.MatrixConnection == nil && d.NextIntention == nil {
		return Patch{}
	}
	m := &MatrixPatch{MatrixConnection: d.MatrixConnection}
	if d.EmotionIndex != nil {
		e := *d.EmotionIndex
		m.EmotionIndex = &e
	}
	if d.NextIntention != nil {
		if m.EmotionIndex == nil {
			m.EmotionIndex = &EmotionPatch{}
		}
		m.EmotionIndex.NextIntention = d.NextIntention
	}
	return Patch{Matrix: m}
}

// Ptr returns a pointer to v. Handy for building patches.
func Ptr[T any](v T) *T {
	return &v
}
