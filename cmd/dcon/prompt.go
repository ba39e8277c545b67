package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/codewiresh/dcon/internal/protocol"
)

// stdin is shared so that buffered input is not lost between prompts.
var stdin = bufio.NewReader(os.Stdin)

// readLine reads one line without its line ending. A last line without a
// newline is returned; io.EOF only comes back when nothing was read.
func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// prompt reads a line of input from the terminal.
func prompt(label string) (string, error) {
	fmt.Fprint(os.Stderr, label)
	line, err := readLine(stdin)
	if err == io.EOF {
		return "", fmt.Errorf("interrupted")
	}
	return strings.TrimSpace(line), err
}

// promptPassword reads a password without echoing. Piped input is read as
// a plain line.
func promptPassword(label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return prompt(label)
	}
	fmt.Fprint(os.Stderr, label)
	password, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr) // newline after hidden input
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(password), nil
}

// console answers the director's questions (yes/no, selections, text
// input) with lines read from in. The text leading up to each question is
// printed as it is asked, so it is skipped when the reply is printed.
type console struct {
	in    *bufio.Reader
	out   io.Writer
	shown int
}

func newConsole(in io.Reader, out io.Writer) *console {
	br, ok := in.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(in)
	}
	return &console{in: br, out: out}
}

func (c *console) answer(_ context.Context, text string, sig protocol.Signal) (string, error) {
	fmt.Fprint(c.out, text)
	c.shown += len(text)
	if sig == protocol.SignalYesNo && !strings.Contains(text, "(yes/") {
		if text != "" && !strings.HasSuffix(text, " ") {
			fmt.Fprint(c.out, " ")
		}
		fmt.Fprint(c.out, "(yes/no): ")
	}
	line, err := readLine(c.in)
	if err == io.EOF {
		return "", fmt.Errorf("no answer to %s: input closed", sig)
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// unseen returns the part of a reply not yet printed by answer and resets
// the count for the next command.
func (c *console) unseen(raw string) string {
	n := c.shown
	c.shown = 0
	if n > len(raw) {
		return raw
	}
	return raw[n:]
}
