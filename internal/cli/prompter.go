package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"
)

// ErrInvalidChoice is returned by Choose when the answer is not a listed option.
var ErrInvalidChoice = errors.New("invalid choice")

// Prompter reads answers line by line from an input stream. When the input is a
// terminal, secrets are read without echo.
type Prompter struct {
	in       *bufio.Reader
	out      io.Writer
	secretFD int
	terminal bool

	readPassword func(fd int) ([]byte, error)
}

// NewPrompter wraps in and out. Masked input is only used when in is a terminal.
func NewPrompter(in io.Reader, out io.Writer) *Prompter {
	p := &Prompter{in: bufio.NewReader(in), out: out, secretFD: -1, readPassword: term.ReadPassword}
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		p.secretFD = int(f.Fd())
		p.terminal = true
	}
	return p
}

// Interactive reports whether the prompter is attached to a terminal.
func (p *Prompter) Interactive() bool {
	return p.terminal
}

func (p *Prompter) readLine() (string, error) {
	line, err := p.in.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && line != "" {
			return strings.TrimRight(line, "\r\n"), nil
		}
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// Line prints label and returns the trimmed answer.
func (p *Prompter) Line(label string) (string, error) {
	fmt.Fprintf(p.out, "%s ", label)
	line, err := p.readLine()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// Secret prints label and reads an answer without echoing it on a terminal.
// Input typed ahead is already in the line buffer, so it is read from there and
// stays in order.
func (p *Prompter) Secret(label string) (string, error) {
	if !p.terminal || p.in.Buffered() > 0 {
		return p.Line(label)
	}
	fmt.Fprintf(p.out, "%s ", label)
	raw, err := p.readPassword(p.secretFD)
	fmt.Fprintln(p.out)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(raw)), nil
}

// Amount asks for a positive whole amount until one is given. Dots, commas and
// spaces used as digit grouping are ignored.
func (p *Prompter) Amount(label string) (int64, error) {
	for {
		answer, err := p.Line(label)
		if err != nil {
			return 0, err
		}
		amount, ok := parseAmount(answer)
		if ok {
			return amount, nil
		}
		fmt.Fprintln(p.out, "Amount must be a whole number greater than 0.")
	}
}

func parseAmount(s string) (int64, bool) {
	cleaned := strings.NewReplacer(".", "", ",", "", " ", "", "_", "").Replace(strings.TrimSpace(s))
	if cleaned == "" {
		return 0, false
	}
	for _, r := range cleaned {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	amount, err := strconv.ParseInt(cleaned, 10, 64)
	if err != nil || amount <= 0 {
		return 0, false
	}
	return amount, true
}

// Confirm asks a yes/no question. Anything other than y or yes counts as no.
func (p *Prompter) Confirm(label string) (bool, error) {
	answer, err := p.Line(label + " [y/N]")
	if err != nil {
		return false, err
	}
	switch strings.ToLower(answer) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}

// Choose prints numbered options and returns the zero-based index picked.
func (p *Prompter) Choose(label string, options []string) (int, error) {
	for i, option := range options {
		fmt.Fprintf(p.out, "  %d) %s\n", i+1, option)
	}
	answer, err := p.Line(label)
	if err != nil {
		return -1, err
	}
	n, err := strconv.Atoi(answer)
	if err != nil || n < 1 || n > len(options) {
		return -1, ErrInvalidChoice
	}
	return n - 1, nil
}

// Pause waits for ENTER.
func (p *Prompter) Pause() error {
	fmt.Fprint(p.out, "Press ENTER to continue...")
	_, err := p.readLine()
	fmt.Fprintln(p.out)
	return err
}
