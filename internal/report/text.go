// Package report renders harness events for humans.
package report

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"chat-harness/internal/protocol"
	"chat-harness/internal/workspace"
)

type styles struct {
	title  lipgloss.Style
	header lipgloss.Style
	dim    lipgloss.Style
	ok     lipgloss.Style
	fail   lipgloss.Style
	added  lipgloss.Style
	output lipgloss.Style
}

func newStyles(r *lipgloss.Renderer, color bool) styles {
	if !color {
		plain := r.NewStyle()
		return styles{plain, plain, plain, plain, plain, plain, plain}
	}
	return styles{
		title:  r.NewStyle().Bold(true).Foreground(lipgloss.Color("62")),
		header: r.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4")),
		dim:    r.NewStyle().Foreground(lipgloss.Color("241")),
		ok:     r.NewStyle().Foreground(lipgloss.Color("42")),
		fail:   r.NewStyle().Foreground(lipgloss.Color("160")).Bold(true),
		added:  r.NewStyle().Foreground(lipgloss.Color("42")),
		output: r.NewStyle().Foreground(lipgloss.Color("245")),
	}
}

// Text writes one or more status lines per event. Write errors are ignored.
type Text struct {
	mu    sync.Mutex
	w     io.Writer
	echo  bool
	style styles
}

// TextOption configures a Text reporter.
type TextOption func(*textOptions)

type textOptions struct {
	echo  bool
	color bool
}

// WithEcho controls whether child output lines are printed.
func WithEcho(echo bool) TextOption { return func(o *textOptions) { o.echo = echo } }

// WithColor forces styling off when false. When true the writer's terminal
// capabilities still decide.
func WithColor(color bool) TextOption { return func(o *textOptions) { o.color = color } }

// NewText creates a Text reporter writing to w.
func NewText(w io.Writer, opts ...TextOption) *Text {
	o := textOptions{echo: true, color: true}
	for _, opt := range opts {
		opt(&o)
	}
	return &Text{
		w:     w,
		echo:  o.echo,
		style: newStyles(lipgloss.NewRenderer(w), o.color),
	}
}

// Report renders one event.
func (t *Text) Report(msgType string, payload any) {
	lines := t.render(msgType, payload)
	if len(lines) == 0 {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, line := range lines {
		fmt.Fprintln(t.w, line)
	}
}

func (t *Text) render(msgType string, payload any) []string {
	s := t.style
	switch p := payload.(type) {
	case protocol.ScenarioStartedPayload:
		cmdline := strings.TrimSpace(p.Executable + " " + strings.Join(p.Args, " "))
		return []string{
			s.title.Render(fmt.Sprintf("Scenario %s (%d steps)", p.Name, p.StepCount)),
			s.dim.Render(fmt.Sprintf("run %s: %s in %s", p.RunID, cmdline, p.WorkDir)),
		}

	case protocol.StepStartedPayload:
		title := p.Description
		if title == "" {
			title = p.Command
		}
		return []string{
			"",
			s.header.Render(fmt.Sprintf("Step %d/%d: %s", p.Index, p.Total, title)),
			"  > " + p.Command,
		}

	case protocol.StepResultPayload:
		if msgType == protocol.TypeStepFailed {
			return []string{s.fail.Render("  failed: " + p.Error)}
		}
		return []string{s.ok.Render("  sent") + s.dim.Render(", waited "+p.Waited)}

	case protocol.WorkspaceListingPayload:
		return t.renderListing(p)

	case protocol.WorkspaceChangedPayload:
		return []string{s.dim.Render(fmt.Sprintf("  workspace now holds %d files", p.FileCount))}

	case protocol.SessionOutputPayload:
		if !t.echo {
			return nil
		}
		if p.Stream == "stderr" {
			return []string{s.fail.Render("  ! ") + s.output.Render(p.Data)}
		}
		return []string{s.output.Render("  | " + p.Data)}

	case protocol.SessionStatePayload:
		if p.State == "terminated" {
			return []string{s.dim.Render(fmt.Sprintf("Session terminated (exit code %d)", p.ExitCode))}
		}
		return []string{s.dim.Render(fmt.Sprintf("Session %s %s (pid %d)", shortID(p.SessionID), p.State, p.PID))}

	case protocol.ScenarioFinishedPayload:
		summary := fmt.Sprintf("%d/%d steps sent, %d failed in %s", p.Sent, p.Steps, p.Failed, p.Duration)
		if p.Interrupted {
			return []string{"", s.fail.Render("Interrupted: ") + summary}
		}
		if p.Failed > 0 {
			return []string{"", s.fail.Render("Finished with failures: ") + summary}
		}
		return []string{"", s.ok.Render("Finished: ") + summary}

	case protocol.ErrorPayload:
		return []string{s.fail.Render(fmt.Sprintf("error [%s]: %s", p.Code, p.Message))}
	}
	return nil
}

func (t *Text) renderListing(p protocol.WorkspaceListingPayload) []string {
	s := t.style
	head := "Files in " + p.Dir
	if p.Label != "" {
		head += " (" + p.Label + ")"
	}
	lines := []string{s.header.Render(head + ":")}

	if len(p.Entries) == 0 {
		lines = append(lines, s.dim.Render("  (empty)"))
	}
	for _, e := range p.Entries {
		lines = append(lines, "  "+formatEntry(e))
		if e.HasPreview {
			for _, pl := range strings.Split(e.Preview, "\n") {
				lines = append(lines, s.dim.Render("      "+pl))
			}
		}
	}

	if p.Diff != nil && !p.Diff.Empty() {
		for _, e := range p.Diff.Added {
			lines = append(lines, s.added.Render("  + "+e.Name))
		}
		for _, e := range p.Diff.Changed {
			lines = append(lines, s.ok.Render("  ~ "+e.Name))
		}
		for _, e := range p.Diff.Removed {
			lines = append(lines, s.fail.Render("  - "+e.Name))
		}
	}
	return lines
}

func formatEntry(e workspace.Entry) string {
	if e.IsDir {
		return e.Name + "/"
	}
	return fmt.Sprintf("%s (%d bytes)", e.Name, e.Size)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
