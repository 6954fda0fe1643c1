// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// ReadPassword reads one line of secret input. When input is a
// terminal the prompt is written to prompter and echo is disabled;
// otherwise the first line of input is read as-is (piped from a
// secret manager). Surrounding whitespace is trimmed.
func ReadPassword(input *os.File, prompter io.Writer, prompt string) (*Buffer, error) {
	var raw []byte
	if term.IsTerminal(int(input.Fd())) {
		fmt.Fprint(prompter, prompt)
		line, err := term.ReadPassword(int(input.Fd()))
		fmt.Fprintln(prompter)
		if err != nil {
			return nil, fmt.Errorf("reading password: %w", err)
		}
		raw = line
	} else {
		line, err := bufio.NewReader(input).ReadBytes('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			Zero(line)
			return nil, fmt.Errorf("reading password: %w", err)
		}
		raw = line
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		Zero(raw)
		return nil, errors.New("password is empty")
	}
	buffer, err := NewFromBytes(trimmed)
	Zero(raw)
	return buffer, err
}
