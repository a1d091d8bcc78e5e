package logging

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// Severity selects the prefix style of a console line.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityOK
	SeverityWarn
	SeverityError
)

var severityLabels = map[Severity]string{
	SeverityInfo:  "INFO",
	SeverityOK:    "OK",
	SeverityWarn:  "WARN",
	SeverityError: "ERROR",
}

func (s Severity) String() string {
	if l, ok := severityLabels[s]; ok {
		return l
	}
	return fmt.Sprintf("Severity(%d)", int(s))
}

// Console writes human-readable report lines. Colours are only emitted
// when w is a terminal; files and buffers receive plain text. A nil
// Console discards everything.
type Console struct {
	mu     sync.Mutex
	w      io.Writer
	styles map[Severity]lipgloss.Style
	plain  lipgloss.Style
}

// NewConsole returns a console writing to w.
func NewConsole(w io.Writer) *Console {
	r := lipgloss.NewRenderer(w)
	return &Console{
		w: w,
		styles: map[Severity]lipgloss.Style{
			SeverityInfo:  r.NewStyle().Foreground(lipgloss.Color("12")),
			SeverityOK:    r.NewStyle().Foreground(lipgloss.Color("10")),
			SeverityWarn:  r.NewStyle().Foreground(lipgloss.Color("11")).Bold(true),
			SeverityError: r.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		},
		plain: r.NewStyle(),
	}
}

// Style renders text in the colour of sev.
func (c *Console) Style(sev Severity, text string) string {
	if c == nil {
		return text
	}
	if st, ok := c.styles[sev]; ok {
		return st.Render(text)
	}
	return c.plain.Render(text)
}

// Printf writes one line prefixed with the severity label.
func (c *Console) Printf(sev Severity, format string, args ...any) {
	if c == nil {
		return
	}
	line := c.Style(sev, "["+sev.String()+"]") + " " + fmt.Sprintf(format, args...)
	c.Println(line)
}

// Println writes s followed by a newline without a prefix.
func (c *Console) Println(s string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.w, s)
}

// Writer exposes the underlying writer for prompts.
func (c *Console) Writer() io.Writer {
	if c == nil {
		return io.Discard
	}
	return c.w
}
