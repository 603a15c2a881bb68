// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keysmith Contributors

package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/keysmith/keysmith/internal/password"
)

// NewScoreCmd creates the score subcommand.
func NewScoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "score [password]",
		Short: "Rate a password's strength",
		Long: `Print the strength rating of a password: weak, medium, strong, or
very-strong. Without an argument the password is read from the terminal
without echo, or as one line from standard input.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := scoreInput(cmd, args)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), password.Score(pw))
			return nil
		},
	}
}

func scoreInput(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}

	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		cmd.PrintErr("Password: ")
		raw, err := term.ReadPassword(int(f.Fd()))
		cmd.PrintErrln()
		if err != nil {
			return "", oops.Code("SCORE_READ_FAILED").With("source", "terminal").Wrap(err)
		}
		return string(raw), nil
	}
	return readLine(in)
}

// readLine returns the first line of r without its line ending.
func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", oops.Code("SCORE_READ_FAILED").With("source", "stdin").Wrap(err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" && errors.Is(err, io.EOF) {
		return "", oops.Code("SCORE_EMPTY_INPUT").Errorf("no password given")
	}
	return line, nil
}
