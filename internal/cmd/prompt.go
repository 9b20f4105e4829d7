package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// prompter asks questions on the terminal.
type prompter struct {
	in  *bufio.Reader
	out io.Writer
	// fd is the terminal used for hidden input, or -1.
	fd int
}

func newPrompter(in io.Reader, out io.Writer) *prompter {
	fd := -1
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fd = int(f.Fd())
	}
	return &prompter{in: bufio.NewReader(in), out: out, fd: fd}
}

// ask reads one line, returning def for an empty answer.
func (p *prompter) ask(label, def string) (string, error) {
	if def != "" {
		fmt.Fprintf(p.out, "%s %s[%s]%s: ", label, colorDim, def, colorReset)
	} else {
		fmt.Fprintf(p.out, "%s: ", label)
	}
	line, err := p.in.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || (line == "" && def == "")) {
		return "", fmt.Errorf("failed to read %s: %w", strings.ToLower(label), err)
	}
	if answer := strings.TrimSpace(line); answer != "" {
		return answer, nil
	}
	return def, nil
}

// secret reads a line without echo when attached to a terminal.
func (p *prompter) secret(label string) (string, error) {
	if p.fd < 0 {
		return p.ask(label, "")
	}
	fmt.Fprintf(p.out, "%s: ", label)
	data, err := term.ReadPassword(p.fd)
	fmt.Fprintln(p.out)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", strings.ToLower(label), err)
	}
	return strings.TrimSpace(string(data)), nil
}
