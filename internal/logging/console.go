package logging

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// Separator sits between the fields of every console line.
const Separator = " ─ "

// Console writes one human-readable line per request or rebuild:
//
//	15:04:05 200 ─ 1.20ms ─ /index.html
//	15:04:05 Rebuild CSS ─ 85.31ms ─ assets/css/styles.css
type Console struct {
	mu  sync.Mutex
	out io.Writer
	now func() time.Time

	timeStyle    lipgloss.Style
	dashStyle    lipgloss.Style
	okStyle      lipgloss.Style
	failStyle    lipgloss.Style
	rebuildStyle lipgloss.Style
	readyStyle   lipgloss.Style
	boldStyle    lipgloss.Style
	inverseStyle lipgloss.Style
}

// NewConsole creates a console writing to out. Colors are only emitted when
// out is a terminal.
func NewConsole(out io.Writer) *Console {
	if out == nil {
		out = os.Stdout
	}

	r := lipgloss.NewRenderer(out)
	if !isTerminal(out) {
		r.SetColorProfile(termenv.Ascii)
	}

	return &Console{
		out:          out,
		now:          time.Now,
		timeStyle:    r.NewStyle().Faint(true),
		dashStyle:    r.NewStyle().Foreground(lipgloss.Color("8")),
		okStyle:      r.NewStyle().Foreground(lipgloss.Color("0")).Background(lipgloss.Color("2")),
		failStyle:    r.NewStyle().Foreground(lipgloss.Color("15")).Background(lipgloss.Color("1")),
		rebuildStyle: r.NewStyle().Foreground(lipgloss.Color("0")).Background(lipgloss.Color("2")),
		readyStyle:   r.NewStyle().Foreground(lipgloss.Color("2")),
		boldStyle:    r.NewStyle().Bold(true),
		inverseStyle: r.NewStyle().Reverse(true),
	}
}

// Request logs a completed HTTP response.
func (c *Console) Request(status int, elapsed time.Duration, path string) {
	code := c.failStyle.Render(fmt.Sprintf("%d", status))
	if status >= http.StatusOK && status < http.StatusBadRequest {
		code = c.okStyle.Render(fmt.Sprintf("%d", status))
	}

	c.line(code, FormatMS(elapsed), path)
}

// Rebuild logs a completed rebuild of the given kind ("HTML", "CSS").
func (c *Console) Rebuild(kind string, elapsed time.Duration, path string) {
	c.line(c.rebuildStyle.Render("Rebuild "+kind), FormatMS(elapsed), path)
}

// Ready prints the startup banner once the listener is bound.
func (c *Console) Ready(url string) {
	const pad = "  "

	half := strings.Repeat("─", terminalWidth(c.out, 36)/2)

	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintf(c.out, "\n%s%s\n\n", pad, c.readyStyle.Render("Coralite is ready! 🚀"))
	fmt.Fprintf(c.out, "%s%s      %s\n\n", pad, c.boldStyle.Render("- Local:"), url)
	fmt.Fprintf(c.out, "%s%s%s\n\n", half, c.inverseStyle.Render(" LOGS "), half)
}

func (c *Console) line(label, elapsed, path string) {
	dash := c.dashStyle.Render(Separator)
	ts := c.timeStyle.Render(c.now().Format("15:04:05"))

	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintf(c.out, "%s %s%s%s%s%s\n", ts, label, dash, elapsed, dash, path)
}

// FormatMS renders a duration in milliseconds with two decimals.
func FormatMS(d time.Duration) string {
	return fmt.Sprintf("%.2fms", float64(d)/float64(time.Millisecond))
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}

	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// terminalWidth caps the terminal's column count at max; non-terminals get max.
func terminalWidth(w io.Writer, max int) int {
	f, ok := w.(*os.File)
	if !ok || !isTerminal(w) {
		return max
	}

	cols, _, err := term.GetSize(int(f.Fd()))
	if err != nil || cols <= 0 {
		return max
	}

	return min(cols, max)
}
