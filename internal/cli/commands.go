package cli

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/apresai/dualogue/internal/llm"
	"github.com/apresai/dualogue/internal/narrator"
	"github.com/apresai/dualogue/internal/persona"
	"github.com/apresai/dualogue/internal/render"
	"github.com/apresai/dualogue/internal/session"
)

func (a *app) narrateCmd() *cobra.Command {
	var apiKey string
	cmd := &cobra.Command{
		Use:   "narrate <command>",
		Short: "Ask the narrator a question, or change the simulation with /set",
		Long: `Narrate sends one command to the narrator. A plain command or /ask gets a
comment on the conversation so far. /set asks for changes to the topic,
parameters or either agent, which are applied and noted in the transcript.`,
		Example: `  dualogue narrate "/ask who is winning the argument?"
  dualogue narrate "/set make agent 2 more suspicious of agent 1"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			sess, err := a.existingSession()
			if err != nil {
				return err
			}
			if apiKey == "" {
				apiKey = sess.APIKey(1)
			}
			gen, err := a.generator(ctx, apiKey)
			if err != nil {
				return err
			}

			outcome, err := narrator.NewEngine(gen, a.log).Narrate(ctx, sess, strings.Join(args, " "), apiKey)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, outcome.Response)
			if len(outcome.Stray) > 0 {
				fmt.Fprintf(out, "\nNote: the narrator also changed %s\n", strings.Join(outcome.Stray, ", "))
			}
			if outcome.Kind != narrator.Patch {
				return nil
			}
			fmt.Fprintf(out, "\nChanged: %s\n", strings.Join(outcome.Changed, ", "))
			return a.saveSession(sess, hasKeys(sess))
		},
	}
	cmd.Flags().StringVar(&apiKey, "api-key", "", "Provider API key (defaults to agent 1's key)")
	return cmd
}

func (a *app) diaryCmd() *cobra.Command {
	var (
		slot   int
		apiKey string
	)
	cmd := &cobra.Command{
		Use:   "diary <description>",
		Short: "Generate an agent's summary diary from a short description",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			sess, err := a.loadSession(false)
			if err != nil {
				return err
			}
			if _, err := sess.Profile(slot); err != nil {
				return err
			}
			if apiKey == "" {
				apiKey = sess.APIKey(slot)
			}
			gen, err := a.generator(ctx, apiKey)
			if err != nil {
				return err
			}

			diary, err := persona.GenerateDiary(ctx, gen, strings.Join(args, " "), sess.Params().Language, apiKey)
			if err != nil {
				return err
			}
			patch := persona.DiaryPatch(diary)
			p := session.Patch{Agent1: &patch}
			if slot == 2 {
				p = session.Patch{Agent2: &patch}
			}
			if _, err := sess.Apply(p, ""); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), diary)
			return a.saveSession(sess, hasKeys(sess))
		},
	}
	cmd.Flags().IntVar(&slot, "agent", 1, "Agent slot (1 or 2)")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "Provider API key (defaults to the agent's key)")
	return cmd
}

func (a *app) showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the session's agents and transcript",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := a.existingSession()
			if err != nil {
				return err
			}
			st := sess.Snapshot()
			out := cmd.OutOrStdout()

			for i, p := range st.Agents {
				fmt.Fprintf(out, "Agent %d: %s\n  %s\n", i+1, p.Name(), render.MatrixLine(p.Matrix.EmotionIndex, p.Matrix.MatrixConnection))
			}
			fmt.Fprintf(out, "Next speaker: agent %d | elapsed %s\n\n", st.NextSlot(), st.Elapsed.Round(time.Second))
			render.NewConsole(out).Transcript(st)
			return nil
		},
	}
}

func (a *app) exportCmd() *cobra.Command {
	var (
		format      string
		output      string
		includeKeys bool
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the session as JSON, Markdown or a profiles-only file",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := a.existingSession()
			if err != nil {
				return err
			}

			var data []byte
			switch format {
			case "json":
				data, err = sess.Marshal(includeKeys)
			case "md", "markdown":
				data, err = render.Markdown(sess.Snapshot(), time.Now())
			case "profiles":
				if output == "" || output == "-" {
					return fmt.Errorf("--format profiles needs --output")
				}
				if err := session.SaveProfiles(sess, output); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Profiles written to %s\n", output)
				return nil
			default:
				return fmt.Errorf("unknown format %q (json, md, profiles)", format)
			}
			if err != nil {
				return err
			}

			if output == "" || output == "-" {
				_, err := cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(output, data, 0600); err != nil {
				return fmt.Errorf("write export to %s: %w", output, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported to %s\n", output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "json", "Export format (json, md, profiles)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default stdout)")
	cmd.Flags().BoolVar(&includeKeys, "include-keys", false, "Include API keys in a JSON export")
	return cmd
}

func (a *app) importCmd() *cobra.Command {
	var profilesOnly bool
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Replace the session with an exported document, or only its agents with --profiles-only",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if profilesOnly {
				sess, err := a.loadSession(false)
				if err != nil {
					return err
				}
				a1, a2, err := session.LoadProfiles(args[0])
				if err != nil {
					return err
				}
				sess.ReplaceProfiles(a1, a2)
				fmt.Fprintf(cmd.OutOrStdout(), "Imported profiles: %s and %s\n", a1.Name(), a2.Name())
				return a.saveSession(sess, hasKeys(sess))
			}

			sess, err := session.Load(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported session %s (%d messages)\n", sess.ID(), sess.Len())
			return a.saveSession(sess, hasKeys(sess))
		},
	}
	cmd.Flags().BoolVar(&profilesOnly, "profiles-only", false, "Only replace the two agent profiles")
	return cmd
}

func (a *app) resetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Restore the default agents and clear the transcript",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := a.existingSession()
			if err != nil {
				return err
			}
			sess.Reset()
			fmt.Fprintln(cmd.OutOrStdout(), "Session reset")
			return a.saveSession(sess, hasKeys(sess))
		},
	}
}

func (a *app) presetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "List the agent presets",
		RunE: func(cmd *cobra.Command, args []string) error {
			lib, err := a.library()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tAGE\tJOB\tTITLE")
			for _, p := range lib.All() {
				who := p.Profile.Soul.Basic.Persona
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
					p.ID, who.Name, who.Age, p.Profile.Soul.Advanced.SocialPosition.Job, p.Title)
			}
			return w.Flush()
		},
	}
}

func (a *app) modelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the supported models",
		Run: func(cmd *cobra.Command, args []string) {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "MODEL\tPROVIDER")
			for _, m := range llm.Models() {
				mark := ""
				if m == a.model {
					mark = " (selected)"
				}
				fmt.Fprintf(w, "%s\t%s%s\n", m, llm.Provider(m), mark)
			}
			w.Flush()
		},
	}
}
