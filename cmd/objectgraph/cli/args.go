// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import "fmt"

// ArgsFunc validates positional arguments.
type ArgsFunc func(args []string) error

// NoArgs rejects any positional argument.
func NoArgs(args []string) error {
	if len(args) > 0 {
		return fmt.Errorf("unexpected argument %q", args[0])
	}
	return nil
}

// ExactArgs requires exactly n positional arguments, each described by
// noun in the error.
func ExactArgs(n int, noun string) ArgsFunc {
	return func(args []string) error {
		if len(args) != n {
			return fmt.Errorf("expected %s, got %d arguments", plural(n, noun), len(args))
		}
		return nil
	}
}

// MinArgs requires at least n positional arguments.
func MinArgs(n int, noun string) ArgsFunc {
	return func(args []string) error {
		if len(args) < n {
			return fmt.Errorf("expected at least %s, got %d", plural(n, noun), len(args))
		}
		return nil
	}
}

func plural(n int, noun string) string {
	if n == 1 {
		return "one " + noun
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
