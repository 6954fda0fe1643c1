// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// ErrNotInteractive is returned by Confirm when input is not a
// terminal and the caller has not pre-approved the action.
var ErrNotInteractive = errors.New("refusing to prompt: input is not a terminal (pass --yes to skip confirmation)")

// IsTerminal reports whether file is attached to a terminal.
func IsTerminal(file *os.File) bool {
	return term.IsTerminal(int(file.Fd()))
}

// Confirm writes question followed by " (y/n) " to output and reads
// one line from input. "y" and "yes" (any case) confirm; anything
// else, including end of input, declines.
func Confirm(input io.Reader, output io.Writer, question string) (bool, error) {
	fmt.Fprintf(output, "%s (y/n) ", question)
	line, err := bufio.NewReader(input).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("reading confirmation: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

// ConfirmTerminal is Confirm gated on input being a terminal: when it
// is not, it returns ErrNotInteractive without reading.
func ConfirmTerminal(input *os.File, output io.Writer, question string) (bool, error) {
	if !IsTerminal(input) {
		return false, ErrNotInteractive
	}
	return Confirm(input, output, question)
}

// WaitForEnter blocks until a line (or end of input) arrives on input,
// then closes the returned channel.
func WaitForEnter(input io.Reader) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		bufio.NewReader(input).ReadString('\n')
	}()
	return done
}
