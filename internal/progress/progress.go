package progress

import "time"

// Stage identifies where a dialogue run is.
type Stage string

const (
	StageStart     Stage = "start"
	StagePacing    Stage = "pacing"
	StageTurn      Stage = "turn"
	StageCommitted Stage = "committed"
	StageSkipped   Stage = "skipped"
	StageComplete  Stage = "complete"
	StageCancelled Stage = "cancelled"
	StageFailed    Stage = "failed"
)

// Final reports whether s ends a run.
func (s Stage) Final() bool {
	return s == StageComplete || s == StageCancelled || s == StageFailed
}

// Event carries progress information from the orchestrator to a renderer.
type Event struct {
	Stage     Stage
	Message   string
	Percent   float64 // 0.0–1.0
	Turn      int
	TurnTotal int
	Slot      int
	Speaker   string
	// Text is the committed utterance, set on StageCommitted.
	Text    string
	Elapsed time.Duration
	Error   error
}

// Callback is the function signature for progress event handlers.
type Callback func(Event)

// NopCallback is a no-op progress callback for tests and silent mode.
func NopCallback(Event) {}

// Tee fans an event out to several callbacks.
func Tee(cbs ...Callback) Callback {
	return func(e Event) {
		for _, cb := range cbs {
			if cb != nil {
				cb(e)
			}
		}
	}
}

// NewEvent creates an Event with common fields populated.
func NewEvent(stage Stage, msg string, turn, total int, start time.Time) Event {
	e := Event{
		Stage:     stage,
		Message:   msg,
		Turn:      turn,
		TurnTotal: total,
		Elapsed:   time.Since(start),
	}
	if total > 0 {
		e.Percent = float64(turn) / float64(total)
	}
	return e
}
