// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/spf13/pflag"
)

// Command is one node of a command tree: either a group that dispatches
// to Subcommands by name, or a leaf with a Run function.
type Command struct {
	// Name is what the user types to select the command.
	Name string

	// Aliases are alternative names accepted for Name. They are not
	// listed in help.
	Aliases []string

	// Summary is the one-line description shown in the parent's listing.
	Summary string

	// Description is shown at the top of the command's own help.
	Description string

	// Usage overrides the synthesized usage line.
	Usage string

	Examples []Example

	// Flags builds the command's flag set. It is called once per
	// invocation and again when rendering help.
	Flags func() *pflag.FlagSet

	// Args validates the positional arguments left after flag parsing.
	// Nil accepts anything.
	Args ArgsFunc

	Subcommands []*Command

	// Run executes a leaf command.
	Run func(ctx context.Context, args []string) error

	// Output receives help text. Subcommands inherit it; the root
	// defaults to os.Stderr.
	Output io.Writer

	parent *Command
}

// Example is a usage example shown in help.
type Example struct {
	Description string
	Command     string
}

// Execute resolves args against the command tree and runs the selected
// command.
func (c *Command) Execute(ctx context.Context, args []string) error {
	command, rest, err := c.resolve(args)
	if err != nil {
		return err
	}
	return command.execute(ctx, rest)
}

// resolve walks leading non-flag arguments down the subcommand tree.
func (c *Command) resolve(args []string) (*Command, []string, error) {
	current := c
	for len(args) > 0 && len(current.Subcommands) > 0 {
		name := args[0]
		if strings.HasPrefix(name, "-") || name == "help" {
			break
		}
		next := current.lookup(name)
		if next == nil {
			message := fmt.Sprintf("unknown command %q", name)
			if suggestion := closest(name, current.names()); suggestion != "" {
				message += fmt.Sprintf(" (did you mean %q?)", suggestion)
			}
			return nil, nil, current.usageError(errors.New(message))
		}
		next.parent = current
		current, args = next, args[1:]
	}
	return current, args, nil
}

func (c *Command) execute(ctx context.Context, args []string) error {
	if len(args) > 0 && (args[0] == "-h" || args[0] == "--help" || args[0] == "help") {
		c.PrintHelp(c.output())
		return nil
	}
	if c.Run == nil {
		c.PrintHelp(c.output())
		if len(c.Subcommands) > 0 {
			return errors.New("subcommand required")
		}
		return fmt.Errorf("%s: nothing to run", c.path())
	}

	if c.Flags != nil {
		flagSet := c.Flags()
		flagSet.SetOutput(io.Discard)
		if err := flagSet.Parse(args); err != nil {
			if errors.Is(err, pflag.ErrHelp) {
				c.PrintHelp(c.output())
				return nil
			}
			if name := unknownFlag(args, c.Flags()); name != "" {
				if suggestion := closest(name, flagNames(c.Flags())); suggestion != "" {
					err = fmt.Errorf("%w (did you mean --%s?)", err, suggestion)
				}
			}
			return c.usageError(err)
		}
		args = flagSet.Args()
	}

	if c.Args != nil {
		if err := c.Args(args); err != nil {
			return c.usageError(err)
		}
	}
	return c.Run(ctx, args)
}

func (c *Command) lookup(name string) *Command {
	for _, sub := range c.Subcommands {
		if sub.Name == name || slices.Contains(sub.Aliases, name) {
			return sub
		}
	}
	return nil
}

func (c *Command) names() []string {
	var names []string
	for _, sub := range c.Subcommands {
		names = append(names, sub.Name)
		names = append(names, sub.Aliases...)
	}
	return names
}

func (c *Command) usageError(err error) error {
	return fmt.Errorf("%w\n\nRun '%s --help' for usage.", err, c.path())
}

func (c *Command) output() io.Writer {
	for command := c; command != nil; command = command.parent {
		if command.Output != nil {
			return command.Output
		}
	}
	return os.Stderr
}

// path is the command as typed from the root, e.g. "objectgraph copy".
func (c *Command) path() string {
	if c.parent == nil {
		return c.Name
	}
	return c.parent.path() + " " + c.Name
}

// PrintHelp writes the command's help to w.
func (c *Command) PrintHelp(w io.Writer) {
	switch {
	case c.Description != "":
		fmt.Fprintf(w, "%s\n\n", c.Description)
	case c.Summary != "":
		fmt.Fprintf(w, "%s\n\n", c.Summary)
	}

	usage := c.Usage
	if usage == "" {
		usage = c.path() + " [flags]"
		if len(c.Subcommands) > 0 {
			usage = c.path() + " <command> [flags]"
		}
	}
	fmt.Fprintf(w, "Usage:\n  %s\n", usage)

	if len(c.Subcommands) > 0 {
		fmt.Fprint(w, "\nCommands:\n")
		table := tabwriter.NewWriter(w, 2, 0, 3, ' ', 0)
		for _, sub := range c.Subcommands {
			fmt.Fprintf(table, "  %s\t%s\n", sub.Name, sub.Summary)
		}
		table.Flush()
	}

	if c.Flags != nil {
		if usage := c.Flags().FlagUsages(); usage != "" {
			fmt.Fprintf(w, "\nFlags:\n%s", usage)
		}
	}

	if len(c.Examples) > 0 {
		fmt.Fprint(w, "\nExamples:\n")
		for i, example := range c.Examples {
			if i > 0 {
				fmt.Fprintln(w)
			}
			if example.Description != "" {
				fmt.Fprintf(w, "  # %s\n", example.Description)
			}
			fmt.Fprintf(w, "  %s\n", example.Command)
		}
	}

	if len(c.Subcommands) > 0 {
		fmt.Fprintf(w, "\nRun '%s <command> --help' for more information on a command.\n", c.path())
	}
}
