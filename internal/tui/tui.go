package tui

// TUI package provides the terminal front end of the chat REPL:
//   - Styled status lines
//   - Line input shared by the REPL and its prompts
//   - Hidden input for credentials

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// =============================================================================
// COLORS
// =============================================================================

const (
	ColorReset  = "\033[0m"
	ColorBold   = "\033[1m"
	ColorDim    = "\033[2m"
	ColorGreen  = "\033[0;32m"
	ColorBlue   = "\033[0;34m"
	ColorCyan   = "\033[0;36m"
	ColorYellow = "\033[1;33m"
	ColorRed    = "\033[0;31m"
	ColorBrand  = "\033[38;2;23;128;68m"
)

const banner = `
  ___ _                        ___ _         _
 / __| |_ _ _ ___ __ _ _ __   / __| |_  __ _| |_
 \__ \  _| '_/ -_) _' | '  \ | (__| ' \/ _' |  _|
 |___/\__|_| \___\__,_|_|_|_| \___|_||_\__,_|\__|`

// =============================================================================
// CONSOLE
// =============================================================================

// Console reads lines and writes styled output. All input goes through one
// buffered reader so prompts never lose lines typed ahead.
type Console struct {
	in    *bufio.Reader
	out   io.Writer
	fd    int // -1 when input is not a terminal
	color bool
	mu    sync.Mutex
}

// NewConsole creates a console. Colors and hidden input are enabled only
// when in and out are terminals.
func NewConsole(in io.Reader, out io.Writer) *Console {
	c := &Console{in: bufio.NewReader(in), out: out, fd: -1}
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		c.fd = int(f.Fd())
	}
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		c.color = true
	}
	return c
}

// Stdio returns a console on the process's standard streams.
func Stdio() *Console {
	return NewConsole(os.Stdin, os.Stdout)
}

func (c *Console) paint(color, s string) string {
	if !c.color {
		return s
	}
	return color + s + ColorReset
}

// Printf writes formatted text.
func (c *Console) Printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

// Write writes raw text, e.g. streamed reply deltas.
func (c *Console) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out.Write(p)
}

// Dim prints a de-emphasized line.
func (c *Console) Dim(msg string) {
	c.Printf("%s\n", c.paint(ColorDim, msg))
}

// Banner displays the streamchat banner.
func (c *Console) Banner() {
	c.Printf("%s\n", c.paint(ColorBrand+ColorBold, banner))
}

// Success prints a success message with green [OK] prefix.
func (c *Console) Success(msg string) {
	c.Printf("%s %s\n", c.paint(ColorGreen, "[OK]"), msg)
}

// Info prints an info message with blue [INFO] prefix.
func (c *Console) Info(msg string) {
	c.Printf("%s %s\n", c.paint(ColorBlue, "[INFO]"), msg)
}

// Warn prints a warning message with yellow [WARN] prefix.
func (c *Console) Warn(msg string) {
	c.Printf("%s %s\n", c.paint(ColorYellow, "[WARN]"), msg)
}

// Error prints an error message with red [ERROR] prefix.
func (c *Console) Error(msg string) {
	c.Printf("%s %s\n", c.paint(ColorRed, "[ERROR]"), msg)
}

// =============================================================================
// INPUT
// =============================================================================

// Prompt prints prompt and reads one line. It returns io.EOF when input ends.
func (c *Console) Prompt(prompt string) (string, error) {
	c.Printf("%s", c.paint(ColorCyan+ColorBold, prompt))
	return c.ReadLine()
}

// ReadLine reads one trimmed line. A final line without newline is returned
// before io.EOF.
func (c *Console) ReadLine() (string, error) {
	line, err := c.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// PromptPassword prompts for a secret. Input is hidden on a terminal and
// read as a plain line otherwise.
func (c *Console) PromptPassword(prompt string) (string, error) {
	c.Printf("%s", prompt)

	if c.fd >= 0 {
		password, err := term.ReadPassword(c.fd)
		c.Printf("\n")
		if err == nil {
			return strings.TrimSpace(string(password)), nil
		}
	}

	return c.ReadLine()
}

// PromptYesNo prompts for a yes/no response. Returns the default if empty.
func (c *Console) PromptYesNo(prompt string, defaultYes bool) bool {
	hint := "[y/N]"
	if defaultYes {
		hint = "[Y/n]"
	}
	answer, err := c.Prompt(fmt.Sprintf("%s %s ", prompt, hint))
	if err != nil || answer == "" {
		return defaultYes
	}
	answer = strings.ToLower(answer)
	return answer == "y" || answer == "yes"
}
