package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/apresai/dualogue/internal/llm"
	"github.com/apresai/dualogue/internal/observability"
	"github.com/apresai/dualogue/internal/persona"
	"github.com/apresai/dualogue/internal/session"
)

var Version = "dev"

// newGenerator builds the gateway for a model name. Tests replace it.
var newGenerator = func(ctx context.Context, model string) (llm.Generator, error) {
	gen, err := llm.NewGenerator(ctx, model)
	if err != nil {
		return nil, err
	}
	return llm.Traced(gen, model), nil
}

// app holds the persistent flags and the state set up before every command.
type app struct {
	sessionPath string
	model       string
	presetsFile string
	logLevel    string
	logFormat   string

	log      *slog.Logger
	shutdown observability.ShutdownFunc
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command
// context, which stops a running dialogue after the turn in flight.
func Execute() error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a := &app{}
	defer a.close()
	return a.rootCmd().ExecuteContext(ctx)
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "dualogue",
		Short:        "Run a conversation between two AI agents with evolving emotional state",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&a.sessionPath, "session", "s", envOr("DUALOGUE_SESSION", "dualogue-session.json"), "Session file to load and save")
	pf.StringVar(&a.model, "model", envOr("DUALOGUE_MODEL", "haiku"), "LLM model ("+strings.Join(llm.Models(), ", ")+")")
	pf.StringVar(&a.presetsFile, "profiles", os.Getenv("DUALOGUE_PRESETS"), "YAML file with extra agent presets")
	pf.StringVar(&a.logLevel, "log-level", envOr("DUALOGUE_LOG_LEVEL", "warn"), "Log level (debug, info, warn, error)")
	pf.StringVar(&a.logFormat, "log-format", "text", "Log format (text or json)")

	root.AddCommand(
		a.runCmd(),
		a.narrateCmd(),
		a.diaryCmd(),
		a.showCmd(),
		a.exportCmd(),
		a.importCmd(),
		a.resetCmd(),
		a.presetsCmd(),
		a.modelsCmd(),
		versionCmd(),
	)
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "dualogue %s\n", Version)
		},
	}
}

func (a *app) setup(cmd *cobra.Command) error {
	level, err := observability.ParseLevel(a.logLevel)
	if err != nil {
		return err
	}
	a.log = observability.InitLogger(observability.Options{
		Level:  level,
		Format: a.logFormat,
		Writer: cmd.ErrOrStderr(),
	})
	slog.SetDefault(a.log)

	shutdown, err := observability.InitTracer(cmd.Context(), "dualogue", Version)
	if err != nil {
		a.log.Warn("Failed to init tracer, continuing without tracing", "error", err)
		return nil
	}
	a.shutdown = shutdown
	return nil
}

func (a *app) close() {
	if a.shutdown == nil {
		return
	}
	if err := a.shutdown(context.Background()); err != nil && a.log != nil {
		a.log.Error("Tracer shutdown error", "error", err)
	}
}

// loadSession opens the session file, or starts a default session when the
// file does not exist yet or fresh is set.
func (a *app) loadSession(fresh bool) (*session.Session, error) {
	if !fresh {
		sess, err := session.Load(a.sessionPath)
		if err == nil {
			return sess, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	return session.NewDefault()
}

// existingSession opens the session file and fails if it is missing.
func (a *app) existingSession() (*session.Session, error) {
	sess, err := session.Load(a.sessionPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("no session at %s (start one with `dualogue run`)", a.sessionPath)
	}
	return sess, err
}

func (a *app) saveSession(sess *session.Session, includeKeys bool) error {
	if err := session.Save(sess, a.sessionPath, includeKeys); err != nil {
		return err
	}
	a.log.Debug("Session saved", "path", a.sessionPath, "session_id", sess.ID())
	return nil
}

// hasKeys reports whether sess carries credentials. A session file that was
// saved with keys keeps them on every later save.
func hasKeys(sess *session.Session) bool {
	return sess.APIKey(1) != "" || sess.APIKey(2) != ""
}

func (a *app) library() (*persona.Library, error) {
	lib, err := persona.NewLibrary()
	if err != nil {
		return nil, err
	}
	if a.presetsFile != "" {
		if err := lib.LoadFile(a.presetsFile); err != nil {
			return nil, err
		}
	}
	return lib, nil
}

// generator checks credentials for the configured model and builds the
// gateway. keys are the per-agent keys that will be sent with requests.
func (a *app) generator(ctx context.Context, keys ...string) (llm.Generator, error) {
	if err := checkAPIKeys(a.model, keys...); err != nil {
		return nil, err
	}
	return newGenerator(ctx, a.model)
}

// checkAPIKeys fails early when a provider would have no credential for
// some request. A request key overrides the environment only for the
// requests that carry it, so every key must be set to skip the env check.
func checkAPIKeys(model string, keys ...string) error {
	allSet := len(keys) > 0
	for _, k := range keys {
		if k == "" {
			allSet = false
		}
	}

	switch llm.Provider(model) {
	case "anthropic":
		if !allSet && os.Getenv("ANTHROPIC_API_KEY") == "" {
			return errors.New("missing ANTHROPIC_API_KEY (or pass --agent1-key and --agent2-key)")
		}
	case "gemini":
		if !allSet && os.Getenv("GEMINI_API_KEY") == "" && os.Getenv("GOOGLE_CLOUD_PROJECT") == "" {
			return errors.New("missing GEMINI_API_KEY or GOOGLE_CLOUD_PROJECT (or pass --agent1-key and --agent2-key)")
		}
	case "bedrock":
		// AWS default credential chain
	default:
		return fmt.Errorf("%w %q (available: %s)", llm.ErrUnknownModel, model, strings.Join(llm.Models(), ", "))
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
