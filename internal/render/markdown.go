package render

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/apresai/dualogue/internal/session"
)

const markdownTemplate = `+++
title = {{ .Title }}
date = {{ .Date }}
tags = {{ .Tags }}
session = {{ .Session }}
+++

{{ .Body }}`

var markdownTmpl = template.Must(template.New("markdown").Parse(markdownTemplate))

// Markdown renders the session as a Markdown page with Hugo front matter.
func Markdown(st session.State, now time.Time) ([]byte, error) {
	title := st.Params.Topic
	if title == "" {
		title = "Untitled conversation"
	}

	var body strings.Builder
	fmt.Fprintf(&body, "## Topic\n\n%s\n\n", st.Params.Topic)
	if st.Params.Relationship != "" {
		fmt.Fprintf(&body, "Relationship: %s\n\n", st.Params.Relationship)
	}

	body.WriteString("## Participants\n\n")
	for _, p := range st.Agents {
		persona := p.Soul.Basic.Persona
		fmt.Fprintf(&body, "- **%s** (%s, %d)", persona.Name, persona.Gender, persona.Age)
		if job := p.Soul.Advanced.SocialPosition.Job; job != "" {
			fmt.Fprintf(&body, ", %s", job)
		}
		body.WriteString("\n")
	}

	body.WriteString("\n## Conversation\n\n")
	if len(st.Transcript) == 0 {
		body.WriteString("_No messages._\n")
	}
	for _, m := range st.Transcript {
		if m.Slot == 0 {
			fmt.Fprintf(&body, "> _%s: %s_\n\n", m.Speaker, m.Text)
			continue
		}
		fmt.Fprintf(&body, "**%s:** %s\n\n", m.Speaker, m.Text)
	}

	body.WriteString("---\n\n## Final state\n\n")
	for _, p := range st.Agents {
		fmt.Fprintf(&body, "### %s\n\n", p.Name())
		fmt.Fprintf(&body, "- %s\n", MatrixLine(p.Matrix.EmotionIndex, p.Matrix.MatrixConnection))
		if intent := p.Matrix.EmotionIndex.NextIntention; intent != "" {
			fmt.Fprintf(&body, "- Next intention: %s\n", intent)
		}
		body.WriteString("\n")
	}
	if st.Elapsed > 0 {
		fmt.Fprintf(&body, "_Elapsed: %s_\n", st.Elapsed.Round(time.Second))
	}

	tags := make([]string, 0, len(st.Agents))
	for _, p := range st.Agents {
		tags = append(tags, strconv.Quote(p.Name()))
	}

	data := struct {
		Title   string
		Date    string
		Tags    string
		Session string
		Body    string
	}{
		Title:   strconv.Quote(title),
		Date:    strconv.Quote(now.Format(time.RFC3339)),
		Tags:    "[" + strings.Join(tags, ", ") + "]",
		Session: strconv.Quote(st.ID),
		Body:    body.String(),
	}

	var buf bytes.Buffer
	if err := markdownTmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("execute markdown template: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteMarkdown renders the session into dir, named by timestamp, and
// returns the file path.
func WriteMarkdown(dir string, st session.State, now time.Time) (string, error) {
	data, err := Markdown(st, now)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}
	path := filepath.Join(dir, now.Format("20060102-150405")+".md")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write markdown file: %w", err)
	}
	return path, nil
}
