package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/apresai/dualogue/internal/dialogue"
	"github.com/apresai/dualogue/internal/ingest"
	"github.com/apresai/dualogue/internal/llm"
	"github.com/apresai/dualogue/internal/progress"
	"github.com/apresai/dualogue/internal/prompt"
	"github.com/apresai/dualogue/internal/render"
	"github.com/apresai/dualogue/internal/session"
)

// seedTopicWords caps the excerpt taken from a seeded document.
const seedTopicWords = 60

type runOptions struct {
	topic        string
	seed         string
	relationship string
	pronouns     string
	temperature  float64
	maxWords     int
	exchanges    int
	language     string
	leisurely    bool
	deep         bool
	agent1       string
	agent2       string
	agent1Key    string
	agent2Key    string
	importFile   string
	fresh        bool
	opener       bool
	dashboard    bool
	progressBar  bool
	markdownDir  string
	includeKeys  bool
}

func (a *app) runCmd() *cobra.Command {
	var o runOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run (or continue) the dialogue for the configured number of exchanges",
		Long: `Run loads the session file (or starts a new session), applies any flags
given, then lets the two agents take turns. A session that already has a
transcript continues where it left off. The session is saved when the run
ends, including when it is cancelled with Ctrl-C.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runDialogue(cmd, o)
		},
	}

	defaults := session.DefaultParameters()
	f := cmd.Flags()
	f.StringVarP(&o.topic, "topic", "t", "", "Conversation topic")
	f.StringVar(&o.seed, "seed", "", "Seed the topic from a URL, PDF, text file or feed (rss+URL)")
	f.StringVar(&o.relationship, "relationship", "", "How the agents are related")
	f.StringVar(&o.pronouns, "pronouns", "", "How the agents address each other")
	f.Float64Var(&o.temperature, "temperature", defaults.Temperature, "Sampling temperature")
	f.IntVar(&o.maxWords, "max-words", defaults.MaxWords, "Word cap per reply")
	f.IntVarP(&o.exchanges, "exchanges", "n", defaults.Exchanges, "Number of turns in this run")
	f.StringVar(&o.language, "language", string(defaults.Language), "Output language (en, vi)")
	f.BoolVar(&o.leisurely, "leisurely", defaults.LeisurelyPacing, "Pause between turns to simulate reading time")
	f.BoolVar(&o.deep, "deep", defaults.DeepInteraction, "Let the agents drift from the topic")
	f.StringVar(&o.agent1, "agent1", "", "Preset ID for agent 1 (see `dualogue presets`)")
	f.StringVar(&o.agent2, "agent2", "", "Preset ID for agent 2")
	f.StringVar(&o.agent1Key, "agent1-key", "", "Provider API key for agent 1's turns")
	f.StringVar(&o.agent2Key, "agent2-key", "", "Provider API key for agent 2's turns")
	f.StringVar(&o.importFile, "import-profiles", "", "Replace both agents from a profiles JSON file")
	f.BoolVar(&o.fresh, "new", false, "Ignore the existing session file and start over")
	f.BoolVar(&o.opener, "opener", false, "Open an empty conversation with a generated starter line")
	f.BoolVar(&o.dashboard, "dashboard", false, "Show the live dashboard (q cancels)")
	f.BoolVar(&o.progressBar, "progress", false, "Show a progress bar instead of streaming messages")
	f.StringVar(&o.markdownDir, "markdown", "", "Also write the transcript as Markdown into this directory")
	f.BoolVar(&o.includeKeys, "include-keys", false, "Store API keys in the session file")
	cmd.MarkFlagsMutuallyExclusive("topic", "seed")
	cmd.MarkFlagsMutuallyExclusive("dashboard", "progress")
	return cmd
}

func (a *app) runDialogue(cmd *cobra.Command, o runOptions) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	sess, err := a.loadSession(o.fresh)
	if err != nil {
		return err
	}
	includeKeys := o.includeKeys || hasKeys(sess)
	if err := a.configure(ctx, cmd, sess, o); err != nil {
		return err
	}
	if err := sess.Params().Validate(); err != nil {
		return fmt.Errorf("start dialogue: %w (pass --topic or --seed)", err)
	}

	key1, key2 := sess.APIKey(1), sess.APIKey(2)
	gen, err := a.generator(ctx, key1, key2)
	if err != nil {
		return err
	}

	if o.opener && sess.Len() == 0 {
		line, err := generateOpener(ctx, gen, sess.Params(), key1)
		if err != nil {
			return err
		}
		sess.Note(session.SpeakerUser, line)
	}

	var summary dialogue.Summary
	var runErr error
	switch {
	case o.dashboard:
		summary, runErr = runDashboard(ctx, gen, sess, a.log, out)
	case o.progressBar:
		summary, runErr = a.runWithBar(ctx, gen, sess, cmd.ErrOrStderr())
	default:
		summary, runErr = a.runStreaming(ctx, gen, sess, out)
	}

	// The transcript is kept whatever happened to the run.
	if err := a.saveSession(sess, includeKeys); err != nil {
		return errors.Join(runErr, err)
	}
	if o.markdownDir != "" {
		path, err := render.WriteMarkdown(o.markdownDir, sess.Snapshot(), time.Now())
		if err != nil {
			return errors.Join(runErr, err)
		}
		fmt.Fprintf(out, "Markdown: %s\n", path)
	}

	fmt.Fprintf(out, "%s\n", describeSummary(summary, runErr))
	return runErr
}

// configure applies the run flags to sess. Only flags given on the command
// line override what a loaded session already holds.
func (a *app) configure(ctx context.Context, cmd *cobra.Command, sess *session.Session, o runOptions) error {
	f := cmd.Flags()
	p := sess.Params()
	if f.Changed("topic") {
		p.Topic = o.topic
	}
	if o.seed != "" {
		content, err := ingest.Ingest(ctx, o.seed)
		if err != nil {
			return err
		}
		p.Topic = ingest.Topic(content, seedTopicWords)
		a.log.InfoContext(ctx, "Topic seeded", "source", content.Source, "words", content.WordCount)
	}
	if f.Changed("relationship") {
		p.Relationship = o.relationship
	}
	if f.Changed("pronouns") {
		p.Pronouns = o.pronouns
	}
	if f.Changed("temperature") {
		p.Temperature = o.temperature
	}
	if f.Changed("max-words") {
		p.MaxWords = o.maxWords
	}
	if f.Changed("exchanges") {
		p.Exchanges = o.exchanges
	}
	if f.Changed("language") {
		p.Language = session.Language(o.language)
	}
	if f.Changed("leisurely") {
		p.LeisurelyPacing = o.leisurely
	}
	if f.Changed("deep") {
		p.DeepInteraction = o.deep
	}
	if err := sess.SetParams(p); err != nil {
		return err
	}

	if o.importFile != "" {
		a1, a2, err := session.LoadProfiles(o.importFile)
		if err != nil {
			return err
		}
		sess.ReplaceProfiles(a1, a2)
	}
	if o.agent1 != "" || o.agent2 != "" {
		lib, err := a.library()
		if err != nil {
			return err
		}
		st := sess.Snapshot()
		profiles := st.Agents
		for i, id := range []string{o.agent1, o.agent2} {
			if id == "" {
				continue
			}
			preset, err := lib.Get(id)
			if err != nil {
				return err
			}
			profiles[i] = preset.Profile
		}
		sess.ReplaceProfiles(profiles[0], profiles[1])
	}

	if o.agent1Key != "" {
		if err := sess.SetAPIKey(1, o.agent1Key); err != nil {
			return err
		}
	}
	if o.agent2Key != "" {
		if err := sess.SetAPIKey(2, o.agent2Key); err != nil {
			return err
		}
	}
	return nil
}

// runStreaming prints every committed message as it lands.
func (a *app) runStreaming(ctx context.Context, gen llm.Generator, sess *session.Session, out io.Writer) (dialogue.Summary, error) {
	console := render.NewConsole(out)
	printer := func(e progress.Event) {
		switch e.Stage {
		case progress.StageCommitted:
			if m, ok := sess.Transcript().Last(); ok {
				console.Message(m)
			}
		case progress.StageSkipped:
			fmt.Fprintf(out, "  (%s)\n\n", e.Message)
		}
	}

	st := sess.Snapshot()
	fmt.Fprintf(out, "Topic: %s\n\n", st.Params.Topic)
	for _, m := range st.Transcript {
		console.Message(m)
	}

	orch := dialogue.New(gen, dialogue.Config{Logger: a.log, Progress: printer})
	return orch.RunSync(ctx, sess)
}

// runWithBar shows the progress bar on w and prints the transcript at the end.
func (a *app) runWithBar(ctx context.Context, gen llm.Generator, sess *session.Session, w io.Writer) (dialogue.Summary, error) {
	var bar *progress.Renderer
	if f, ok := w.(*os.File); ok {
		bar = progress.NewRenderer(f)
	} else {
		bar = progress.NewPlainRenderer(w)
	}

	orch := dialogue.New(gen, dialogue.Config{Logger: a.log, Progress: bar.Handle})
	summary, err := orch.RunSync(ctx, sess)
	bar.Finish()

	render.NewConsole(w).Transcript(sess.Snapshot())
	return summary, err
}

// generateOpener asks the model for a first line to get the agents going.
func generateOpener(ctx context.Context, gen llm.Generator, p session.Parameters, apiKey string) (string, error) {
	res, err := llm.Check(gen.Generate(ctx, llm.Request{
		Prompt:      prompt.Starter(p.Topic),
		APIKey:      apiKey,
		Temperature: p.Temperature,
		MaxTokens:   256,
	}))
	if err != nil {
		return "", fmt.Errorf("generate opener: %w", err)
	}
	line := strings.Trim(strings.TrimSpace(res.Text), `"`)
	if line == "" {
		return "", errors.New("generate opener: empty response")
	}
	return line, nil
}

func describeSummary(s dialogue.Summary, err error) string {
	status := "Completed"
	switch {
	case err != nil:
		status = "Failed"
	case s.Cancelled:
		status = "Cancelled"
	}
	msg := fmt.Sprintf("%s: %d turns, %d committed", status, s.Turns, s.Committed)
	if s.Skipped > 0 {
		msg += fmt.Sprintf(", %d skipped", s.Skipped)
	}
	return msg
}
