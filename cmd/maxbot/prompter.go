package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

var errNoTerminal = errors.New("an SMS code is needed but stdin is not a terminal (use --force to read it anyway)")

// terminalPrompter reads SMS codes line by line.
type terminalPrompter struct {
	in    *bufio.Reader
	out   io.Writer
	isTTY bool
	force bool
}

func newTerminalPrompter(in io.Reader, out io.Writer, force bool) *terminalPrompter {
	isTTY := false
	if f, ok := in.(*os.File); ok {
		isTTY = term.IsTerminal(int(f.Fd()))
	}
	return &terminalPrompter{in: bufio.NewReader(in), out: out, isTTY: isTTY, force: force}
}

func (p *terminalPrompter) PromptCode(ctx context.Context, phone string, attempt int) (string, error) {
	if !p.isTTY && !p.force {
		return "", errNoTerminal
	}

	if attempt > 1 {
		fmt.Fprintln(p.out, "Wrong code, try again.")
	}
	fmt.Fprintf(p.out, "Enter the code sent to %s: ", phone)

	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := p.in.ReadString('\n')
		ch <- result{line, err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-ch:
		code := strings.TrimSpace(r.line)
		if r.err != nil && (!errors.Is(r.err, io.EOF) || code == "") {
			return "", fmt.Errorf("read code: %w", r.err)
		}
		if code == "" {
			return "", errors.New("empty code")
		}
		return code, nil
	}
}
