// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keysmith Contributors

package main

import (
	"fmt"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/keysmith/keysmith/internal/password"
)

type generateOptions struct {
	length    int
	uppercase bool
	digits    bool
	special   bool
	count     int
	quiet     bool
}

// NewGenerateCmd creates the generate subcommand.
func NewGenerateCmd() *cobra.Command {
	opts := &generateOptions{}

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate random passwords",
		Long: `Generate passwords offline from the cryptographic random source and
print each with its strength rating.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runGenerate(cmd, opts, password.NewGenerator())
		},
	}

	d := password.DefaultSpec()
	cmd.Flags().IntVarP(&opts.length, "length", "l", d.Length, "password length")
	cmd.Flags().BoolVar(&opts.uppercase, "uppercase", d.Uppercase, "include uppercase letters")
	cmd.Flags().BoolVar(&opts.digits, "digits", d.Digits, "include digits")
	cmd.Flags().BoolVar(&opts.special, "special", d.Special, "include special characters")
	cmd.Flags().IntVarP(&opts.count, "count", "n", 1, "number of passwords")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "print passwords only")

	return cmd
}

func runGenerate(cmd *cobra.Command, opts *generateOptions, gen *password.Generator) error {
	if opts.length < 1 {
		return oops.Code("PASSWORD_INVALID_LENGTH").With("length", opts.length).Errorf("length must be at least 1")
	}
	if opts.count < 1 {
		return oops.Code("GENERATE_INVALID_COUNT").With("count", opts.count).Errorf("count must be at least 1")
	}

	spec := password.Spec{
		Length:    opts.length,
		Uppercase: opts.uppercase,
		Digits:    opts.digits,
		Special:   opts.special,
	}
	out := cmd.OutOrStdout()
	for range opts.count {
		pw, err := gen.Generate(spec)
		if err != nil {
			return err
		}
		if opts.quiet {
			_, _ = fmt.Fprintln(out, pw)
			continue
		}
		_, _ = fmt.Fprintf(out, "%s\t%s\n", pw, password.Score(pw))
	}
	return nil
}
