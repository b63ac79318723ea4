package agent

// Gender is the persona's gender as understood by the prompt builder.
type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
)

// Valid reports whether g is one of the supported genders.
func (g Gender) Valid() bool {
	return g == GenderMale || g == GenderFemale
}

// Profile is one side of the dialogue. Soul changes slowly (backstory and
// identity), Matrix is the runtime state mutated every turn.
//
// Profile holds no pointers, so assigning it copies it.
type Profile struct {
	Soul   Soul   `json:"soul" yaml:"soul"`
	Matrix Matrix `json:"matrix" yaml:"matrix"`
}

// Name returns the persona display name used as the transcript speaker.
func (p Profile) Name() string {
	return p.Soul.Basic.Persona.Name
}

type Soul struct {
	Basic    Basic    `json:"basic" yaml:"basic"`
	Advanced Advanced `json:"advanced" yaml:"advanced"`
}

type Basic struct {
	Persona        Persona `json:"persona" yaml:"persona"`
	CuriosityIndex Score   `json:"curiosityIndex" yaml:"curiosityIndex"`
	SummaryDiary   string  `json:"summaryDiary" yaml:"summaryDiary"`
}

type Persona struct {
	Name        string `json:"name" yaml:"name"`
	Age         int    `json:"age" yaml:"age"`
	Gender      Gender `json:"gender" yaml:"gender"`
	Nationality string `json:"nationality" yaml:"nationality"`
	Location    string `json:"location" yaml:"location"`
}

type Advanced struct {
	SocialPosition SocialPosition `json:"socialPosition" yaml:"socialPosition"`
	Relationships  string         `json:"relationships" yaml:"relationships"`
}

type SocialPosition struct {
	Job             string `json:"job" yaml:"job"`
	FinancialStatus string `json:"financialStatus" yaml:"financialStatus"`
	QualityOfLife   Score  `json:"qualityOfLife" yaml:"qualityOfLife"`
	HappinessIndex  Score  `json:"happinessIndex" yaml:"happinessIndex"`
}

type Matrix struct {
	EmotionIndex     EmotionIndex `json:"emotionIndex" yaml:"emotionIndex"`
	MatrixConnection Connection   `json:"matrixConnection" yaml:"matrixConnection"`
	MatrixFavor      Favor        `json:"matrixFavor" yaml:"matrixFavor"`
}

// EmotionIndex is the speaker's internal state. NextIntention is carried
// forward from the previous turn into the next prompt.
type EmotionIndex struct {
	Health        Score  `json:"health" yaml:"health"`
	Appearance    Score  `json:"appearance" yaml:"appearance"`
	IQ            Score  `json:"iq" yaml:"iq"`
	EQ            Score  `json:"eq" yaml:"eq"`
	Antipathy     Score  `json:"antipathy" yaml:"antipathy"`
	NextIntention string `json:"nextIntention" yaml:"nextIntention"`
}

// Connection is this agent's view of its relationship to the other agent.
// Each profile stores its own copy; nothing keeps the two in sync.
type Connection struct {
	Connection Score `json:"connection" yaml:"connection"`
	Trust      Score `json:"trust" yaml:"trust"`
	Intimacy   Score `json:"intimacy" yaml:"intimacy"`
	Dependency Score `json:"dependency" yaml:"dependency"`
}

// Favor holds static identity facts. Turns never write here.
type Favor struct {
	DOB             string `json:"dob" yaml:"dob"`
	Zodiac          string `json:"zodiac" yaml:"zodiac"`
	PersonalityType string `json:"personalityType" yaml:"personalityType"`
	ThinkingStyle   string `json:"thinkingStyle" yaml:"thinkingStyle"`
	Strengths       string `json:"strengths" yaml:"strengths"`
	Weaknesses      string `json:"weaknesses" yaml:"weaknesses"`
	Hobbies         string `json:"hobbies" yaml:"hobbies"`
	Dislikes        string `json:"dislikes" yaml:"dislikes"`
	Dreams          string `json:"dreams" yaml:"dreams"`
	CoreBeliefs     string `json:"coreBeliefs" yaml:"coreBeliefs"`
	LifePhilosophy  string `json:"lifePhilosophy" yaml:"lifePhilosophy"`
	PastTrauma      string `json:"pastTrauma" yaml:"pastTrauma"`
}

// EmptyProfile returns a profile with neutral defaults and no identity.
func EmptyProfile() Profile {
	return Profile{
		Soul: Soul{
			Basic: Basic{
				Persona:        Persona{Age: 30, Gender: GenderMale},
				CuriosityIndex: 50,
			},
			Advanced: Advanced{
				SocialPosition: SocialPosition{QualityOfLife: 50, HappinessIndex: 50},
			},
		},
		Matrix: Matrix{
			EmotionIndex: EmotionIndex{
				Health:     80,
				Appearance: 70,
				IQ:         120,
				EQ:         110,
				Antipathy:  10,
			},
			MatrixConnection: Connection{
				Connection: 20,
				Trust:      20,
				Intimacy:   10,
				Dependency: 10,
			},
		},
	}
}

// DefaultAgent1 is the built-in first speaker: a cautious scientist.
func DefaultAgent1() Profile {
	p := EmptyProfile()
	p.Soul.Basic.Persona.Name = "Agent 1"
	p.Soul.Basic.Persona.Gender = GenderMale
	p.Soul.Basic.SummaryDiary = "A pragmatic and cautious scientist who weighs the risks and ethical implications of every decision."
	return p
}

// DefaultAgent2 is the built-in second speaker: a visionary artist.
func DefaultAgent2() Profile {
	p := EmptyProfile()
	p.Soul.Basic.Persona.Name = "Agent 2"
	p.Soul.Basic.Persona.Gender = GenderFemale
	p.Soul.Basic.SummaryDiary = "A visionary artist and dreamer who sees boundless potential and beauty in the cosmos."
	return p
}
