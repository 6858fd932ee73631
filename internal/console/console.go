// Package console renders the interactive chat: banner, timestamped system and
// agent lines, and a right-aligned date header whenever the date changes.
package console

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/fatih/color"
	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/csvagent/pkg/tables"
)

const (
	defaultWidth = 80

	title    = "AGENTE CSV DE NOTAS FISCAIS"
	subtitle = "Faça perguntas sobre os dados das notas fiscais."
	footer   = "Use Ctrl+C ou Ctrl+D para sair a qualquer momento."
)

type Config struct {
	In      io.Reader
	Out     io.Writer
	Clock   clockwork.Clock
	Width   int
	NoColor bool
}

type Console struct {
	in    *bufio.Reader
	out   io.Writer
	clock clockwork.Clock
	width int
	tty   bool

	info, success, warning, failure, banner *color.Color

	mu       sync.Mutex
	lastDate string
}

func New(cfg Config) *Console {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Width <= 0 {
		cfg.Width = defaultWidth
	}
	c := &Console{
		in:      bufio.NewReader(cfg.In),
		out:     cfg.Out,
		clock:   cfg.Clock,
		width:   cfg.Width,
		tty:     !cfg.NoColor,
		info:    color.New(color.FgCyan),
		success: color.New(color.FgGreen),
		warning: color.New(color.FgYellow),
		failure: color.New(color.FgRed),
		banner:  color.New(color.FgMagenta),
	}
	if cfg.NoColor {
		for _, col := range []*color.Color{c.info, c.success, c.warning, c.failure, c.banner} {
			col.DisableColor()
		}
	}
	return c
}

// Header prints the banner followed by the date header.
func (c *Console) Header() {
	c.mu.Lock()
	defer c.mu.Unlock()

	border := strings.Repeat("=", c.width-1)
	c.banner.Fprintln(c.out, center(border, c.width))
	c.banner.Fprintln(c.out, center(title, c.width))
	c.banner.Fprintln(c.out, center(border, c.width))
	fmt.Fprintln(c.out, center(subtitle, c.width))
	fmt.Fprintln(c.out, center(footer, c.width)+"\n")
	c.dateHeader()
}

func (c *Console) Info(format string, args ...any)    { c.system(c.info, format, args...) }
func (c *Console) Success(format string, args ...any) { c.system(c.success, format, args...) }
func (c *Console) Warning(format string, args ...any) { c.system(c.warning, format, args...) }
func (c *Console) Error(format string, args ...any)   { c.system(c.failure, format, args...) }

// Agent prints an answer.
func (c *Console) Agent(answer string) {
	c.line(c.success, "Agente", answer)
}

// User echoes a question, replacing the raw input line on a terminal.
func (c *Console) User(question string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tty {
		fmt.Fprint(c.out, "\033[A\033[2K")
	}
	c.dateHeader()
	c.info.Fprintf(c.out, "[%s] Você: %s\n", c.timestamp(), question)
}

// Item prints an indented list entry.
func (c *Console) Item(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, "  - %s\n", s)
}

// Messages prints ingestion messages at their level. It reports whether any
// of them was an error.
func (c *Console) Messages(msgs []tables.Message) bool {
	failed := false
	for _, m := range msgs {
		switch m.Level {
		case tables.LevelInfo:
			c.Info("%s", m.Text)
		case tables.LevelSuccess:
			c.Success("%s", m.Text)
		case tables.LevelWarning:
			c.Warning("%s", m.Text)
		default:
			c.Error("%s", m.Text)
			failed = true
		}
	}
	return failed
}

// Ask prints a system prompt and reads one trimmed line. It returns io.EOF when
// input is closed.
func (c *Console) Ask(prompt string) (string, error) {
	c.mu.Lock()
	c.info.Fprintf(c.out, "[%s] Sistema: %s ", c.timestamp(), prompt)
	c.mu.Unlock()
	return c.readLine()
}

// ReadQuestion shows the chat prompt and reads one trimmed line.
func (c *Console) ReadQuestion() (string, error) {
	c.mu.Lock()
	c.info.Fprint(c.out, "Você: ")
	c.mu.Unlock()
	return c.readLine()
}

func (c *Console) readLine() (string, error) {
	line, err := c.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (c *Console) system(col *color.Color, format string, args ...any) {
	c.line(col, "Sistema", fmt.Sprintf(format, args...))
}

func (c *Console) line(col *color.Color, who, msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dateHeader()
	col.Fprintf(c.out, "[%s] %s: %s\n", c.timestamp(), who, msg)
}

// dateHeader prints the current date when it differs from the last one shown.
func (c *Console) dateHeader() {
	date := c.clock.Now().Format("02/01/2006")
	if date == c.lastDate {
		return
	}
	c.lastDate = date
	c.banner.Fprintln(c.out, fmt.Sprintf("%*s", c.width, date))
}

func (c *Console) timestamp() string {
	return c.clock.Now().Format("15:04:05")
}

func center(s string, width int) string {
	n := utf8.RuneCountInString(s)
	if n >= width {
		return s
	}
	left := (width - n) / 2
	return strings.Repeat(" ", left) + s + strings.Repeat(" ", width-n-left)
}
