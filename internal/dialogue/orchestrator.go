package dialogue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/apresai/dualogue/internal/llm"
	"github.com/apresai/dualogue/internal/progress"
	"github.com/apresai/dualogue/internal/prompt"
	"github.com/apresai/dualogue/internal/response"
	"github.com/apresai/dualogue/internal/session"
)

var tracer = otel.Tracer("dualogue")

// State is the orchestrator's run state.
type State int32

const (
	Idle State = iota
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	default:
		return "idle"
	}
}

// SleepFunc waits for d unless stop closes or ctx ends first. It reports
// whether the full delay elapsed.
type SleepFunc func(ctx context.Context, d time.Duration, stop <-chan struct{}) bool

// Config tunes an Orchestrator. Zero values pick the defaults.
type Config struct {
	Logger   *slog.Logger
	Progress progress.Callback
	// PerWord is the reading delay per word of the previous message when
	// leisurely pacing is on.
	PerWord time.Duration
	Sleep   SleepFunc
}

// Orchestrator drives the turn loop of one session at a time.
type Orchestrator struct {
	gen      llm.Generator
	log      *slog.Logger
	progress progress.Callback
	perWord  time.Duration
	sleep    SleepFunc

	mu    sync.Mutex
	state State
	run   *Run
}

func New(gen llm.Generator, cfg Config) *Orchestrator {
	o := &Orchestrator{
		gen:      gen,
		log:      cfg.Logger,
		progress: cfg.Progress,
		perWord:  cfg.PerWord,
		sleep:    cfg.Sleep,
	}
	if o.log == nil {
		o.log = slog.Default()
	}
	if o.progress == nil {
		o.progress = progress.NopCallback
	}
	if o.perWord <= 0 {
		o.perWord = time.Duration(session.SecondsPerWord * float64(time.Second))
	}
	if o.sleep == nil {
		o.sleep = sleep
	}
	return o
}

func sleep(ctx context.Context, d time.Duration, stop <-chan struct{}) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-stop:
		return false
	case <-ctx.Done():
		return false
	}
}

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Active returns the current run, or nil when idle.
func (o *Orchestrator) Active() *Run {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.run
}

// Start validates the session and launches a run of Exchanges turns in the
// background. The transcript may be non-empty, in which case the run
// continues it with whichever agent did not speak last.
func (o *Orchestrator) Start(ctx context.Context, sess *session.Session) (*Run, error) {
	params := sess.Params()
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("start dialogue: %w", err)
	}

	o.mu.Lock()
	if o.state != Idle {
		o.mu.Unlock()
		return nil, ErrRunning
	}
	var run *Run
	run = newRun(sess.ID(), params.Exchanges, func() { o.markStopping(run) })
	o.state = Running
	o.run = run
	o.mu.Unlock()

	go func() {
		summary, err := o.loop(ctx, sess, run)
		o.mu.Lock()
		o.state = Idle
		o.run = nil
		o.mu.Unlock()
		run.finish(summary, err)
	}()
	return run, nil
}

func (o *Orchestrator) markStopping(run *Run) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.run == run && o.state == Running {
		o.state = Stopping
	}
}

// RunSync starts a run and waits for it.
func (o *Orchestrator) RunSync(ctx context.Context, sess *session.Session) (Summary, error) {
	run, err := o.Start(ctx, sess)
	if err != nil {
		return Summary{}, err
	}
	return run.Wait()
}

func (o *Orchestrator) loop(ctx context.Context, sess *session.Session, run *Run) (summary Summary, err error) {
	start := time.Now()
	budget := run.budget

	ctx, span := tracer.Start(ctx, "dialogue.run")
	defer span.End()
	span.SetAttributes(
		attribute.String("session.id", sess.ID()),
		attribute.Int("dialogue.budget", budget),
		attribute.Int("dialogue.resumed_from", sess.Len()),
	)

	log := o.log.With("session_id", sess.ID())
	defer func() {
		sess.AddElapsed(time.Since(start))
		span.SetAttributes(
			attribute.Int("dialogue.committed", summary.Committed),
			attribute.Int("dialogue.skipped", summary.Skipped),
			attribute.Bool("dialogue.cancelled", summary.Cancelled),
		)
	}()

	slot := sess.Snapshot().NextSlot()
	log.InfoContext(ctx, "Dialogue run started", "budget", budget, "first_slot", slot, "history", sess.Len())
	o.progress(progress.NewEvent(progress.StageStart, fmt.Sprintf("Starting %d turns", budget), 0, budget, start))

	for i := 0; i < budget; i++ {
		turn := i + 1
		if run.stopping() || ctx.Err() != nil {
			summary.Cancelled = true
			break
		}

		st := sess.Snapshot()
		if st.Params.LeisurelyPacing {
			if last, ok := st.Transcript.Last(); ok {
				delay := time.Duration(len(strings.Fields(last.Text))) * o.perWord
				o.progress(progress.NewEvent(progress.StagePacing, fmt.Sprintf("Reading (%s)", delay.Round(100*time.Millisecond)), i, budget, start))
				o.sleep(ctx, delay, run.stop)
			}
		}
		if run.stopping() || ctx.Err() != nil {
			summary.Cancelled = true
			break
		}

		summary.Turns++
		committed, err := o.turn(ctx, sess, slot, turn, budget, start)
		if err != nil {
			if ctx.Err() != nil {
				summary.Cancelled = true
				break
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, "turn failed")
			log.ErrorContext(ctx, "Dialogue run failed", "turn", turn, "error", err)
			ev := progress.NewEvent(progress.StageFailed, "Run failed", i, budget, start)
			ev.Error = err
			o.progress(ev)
			return summary, err
		}
		if committed {
			summary.Committed++
		} else {
			summary.Skipped++
		}
		slot = session.Other(slot)
	}

	if summary.Cancelled {
		log.InfoContext(ctx, "Dialogue run cancelled", "committed", summary.Committed, "turns", summary.Turns)
		o.progress(progress.NewEvent(progress.StageCancelled, fmt.Sprintf("Stopped after %d messages", summary.Committed), summary.Turns, budget, start))
	} else {
		log.InfoContext(ctx, "Dialogue run complete", "committed", summary.Committed, "skipped", summary.Skipped)
		o.progress(progress.NewEvent(progress.StageComplete, fmt.Sprintf("%d messages, %d skipped", summary.Committed, summary.Skipped), budget, budget, start))
	}
	span.SetStatus(codes.Ok, "")
	return summary, nil
}

// turn runs one speaker slot. It returns false when the reply carried no
// usable utterance and the slot was skipped.
func (o *Orchestrator) turn(ctx context.Context, sess *session.Session, slot, turn, budget int, start time.Time) (bool, error) {
	st := sess.Snapshot()
	speaker, other := st.Agent(slot), st.Agent(session.Other(slot))

	ctx, span := tracer.Start(ctx, "dialogue.turn")
	defer span.End()
	span.SetAttributes(
		attribute.Int("dialogue.turn", turn),
		attribute.Int("dialogue.slot", slot),
		attribute.String("dialogue.speaker", speaker.Name()),
	)

	ev := progress.NewEvent(progress.StageTurn, fmt.Sprintf("%s is thinking (turn %d/%d)", speaker.Name(), turn, budget), turn-1, budget, start)
	ev.Slot, ev.Speaker = slot, speaker.Name()
	o.progress(ev)

	req := llm.Request{
		Prompt:      prompt.Turn(speaker, other, st.Params, st.Transcript),
		System:      prompt.TurnSystem,
		APIKey:      sess.APIKey(slot),
		Temperature: st.Params.Temperature,
		MaxTokens:   llm.MaxTokensForWords(st.Params.MaxWords),
		JSON:        true,
	}
	res, err := llm.Check(o.gen.Generate(ctx, req))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
		return false, &TurnError{Turn: turn, Speaker: speaker.Name(), Err: err}
	}

	log := o.log.With("session_id", sess.ID(), "turn", turn, "speaker", speaker.Name())
	reply, err := response.Parse(res)
	if err == nil && reply.Unparsed {
		err = fmt.Errorf("unparsable reply: %q", truncate(reply.Utterance, 120))
	}
	if err != nil {
		log.WarnContext(ctx, "Turn skipped", "reason", err)
		span.SetAttributes(attribute.Bool("dialogue.skipped", true))
		ev := progress.NewEvent(progress.StageSkipped, fmt.Sprintf("%s produced no message", speaker.Name()), turn, budget, start)
		ev.Slot, ev.Speaker = slot, speaker.Name()
		if !errors.Is(err, response.ErrNoText) {
			ev.Error = err
		}
		o.progress(ev)
		return false, nil
	}
	if len(reply.Dropped) > 0 {
		log.WarnContext(ctx, "Ignored undecodable state", "fields", reply.Dropped)
	}

	msg, err := sess.Commit(slot, reply.Utterance, reply.Delta.Patch())
	if err != nil {
		return false, &TurnError{Turn: turn, Speaker: speaker.Name(), Err: err}
	}
	log.InfoContext(ctx, "Turn committed", "words", len(strings.Fields(msg.Text)))

	ev = progress.NewEvent(progress.StageCommitted, fmt.Sprintf("%s spoke (turn %d/%d)", speaker.Name(), turn, budget), turn, budget, start)
	ev.Slot, ev.Speaker, ev.Text = slot, speaker.Name(), msg.Text
	o.progress(ev)
	return true, nil
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) > maxLen {
		return string(r[:maxLen]) + "..."
	}
	return s
}
