package cli

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/raphaelgruber/chatsync/internal/chat"
	"github.com/raphaelgruber/chatsync/internal/models"
	"golang.org/x/term"
)

// Theme holds the color scheme for the transcript display.
type Theme struct {
	Human     lipgloss.Color
	Assistant lipgloss.Color
	Error     lipgloss.Color
	Hint      lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	Human:     lipgloss.Color("#5FAFD7"), // light blue
	Assistant: lipgloss.Color("#00D787"), // green
	Error:     lipgloss.Color("#FF005F"), // red
	Hint:      lipgloss.Color("#6C6C6C"), // dim gray
}

// styles are the rendered styles of a theme. Plain output uses zero styles.
type styles struct {
	human     lipgloss.Style
	assistant lipgloss.Style
	err       lipgloss.Style
	hint      lipgloss.Style
}

func (t Theme) styles(enabled bool) styles {
	if !enabled {
		plain := lipgloss.NewStyle()
		return styles{human: plain, assistant: plain, err: plain, hint: plain}
	}
	return styles{
		human:     lipgloss.NewStyle().Foreground(t.Human).Bold(true),
		assistant: lipgloss.NewStyle().Foreground(t.Assistant).Bold(true),
		err:       lipgloss.NewStyle().Foreground(t.Error).Bold(true),
		hint:      lipgloss.NewStyle().Foreground(t.Hint).Italic(true),
	}
}

// isTerminal reports whether w is a terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// printedMessage identifies a finalized message already written out.
type printedMessage struct {
	id      string
	text    string
	errored bool
}

func printedOf(m models.Message) printedMessage {
	return printedMessage{id: m.MessageID, text: m.Content.String(), errored: m.HasError()}
}

// terminalRenderer appends transcript changes to a line-oriented terminal.
// Streaming text is written as it arrives; a replaced transcript (history
// load, session switch) is reprinted from the first message that differs.
type terminalRenderer struct {
	out    io.Writer
	styles styles

	mu       sync.Mutex
	session  string
	loading  bool
	printed  []printedMessage
	streamAt int // index of the message being streamed, or -1
	streamed int // bytes of its text already written
}

func newTerminalRenderer(out io.Writer, styled bool) *terminalRenderer {
	return &terminalRenderer{out: out, styles: defaultTheme.styles(styled), streamAt: -1}
}

// Render implements chat.Renderer.
func (r *terminalRenderer) Render(s chat.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s.Session.SessionID != r.session {
		r.session = s.Session.SessionID
		r.printed = nil
		r.endStream()
		fmt.Fprintln(r.out, r.styles.hint.Render("── "+s.Session.SessionID+" ──"))
	}
	if s.Loading && !r.loading {
		fmt.Fprintln(r.out, r.styles.hint.Render("loading history..."))
	}
	r.loading = s.Loading

	k := 0
	for k < len(r.printed) && k < len(s.Transcript) &&
		!s.Transcript[k].IsStreaming && printedOf(s.Transcript[k]) == r.printed[k] {
		k++
	}
	if k < len(r.printed) {
		r.printed = r.printed[:k]
	}

	for i := k; i < len(s.Transcript); i++ {
		m := s.Transcript[i]
		if m.IsStreaming {
			r.stream(i, m)
			break
		}
		r.finish(i, m)
		r.printed = append(r.printed, printedOf(m))
	}

	if s.Notice != "" {
		fmt.Fprintln(r.out, r.styles.hint.Render(s.Notice))
	}
}

func (r *terminalRenderer) stream(i int, m models.Message) {
	text := m.Content.String()
	if r.streamAt != i || len(text) < r.streamed {
		if r.streamAt >= 0 {
			fmt.Fprintln(r.out)
		}
		r.streamAt, r.streamed = i, 0
		fmt.Fprint(r.out, r.label(m.Role))
	}
	if len(text) > r.streamed {
		fmt.Fprint(r.out, text[r.streamed:])
		r.streamed = len(text)
	}
}

func (r *terminalRenderer) finish(i int, m models.Message) {
	text := m.Content.String()
	if r.streamAt == i && len(text) >= r.streamed {
		fmt.Fprintln(r.out, text[r.streamed:])
	} else {
		if r.streamAt >= 0 {
			fmt.Fprintln(r.out)
		}
		fmt.Fprintln(r.out, r.label(m.Role)+text)
	}
	r.endStream()
	if m.Error != nil {
		fmt.Fprintln(r.out, r.styles.err.Render("✗ "+*m.Error)+r.styles.hint.Render("  (/retry to resend)"))
	}
}

func (r *terminalRenderer) endStream() {
	r.streamAt, r.streamed = -1, 0
}

func (r *terminalRenderer) label(role models.Role) string {
	if role == models.RoleHuman {
		return r.styles.human.Render("you ›") + " "
	}
	return r.styles.assistant.Render("assistant ›") + " "
}

// hintf writes a dim informational line.
func (r *terminalRenderer) hintf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintln(r.out, r.styles.hint.Render(fmt.Sprintf(format, args...)))
}
