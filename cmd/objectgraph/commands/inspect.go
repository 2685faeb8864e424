// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/objectgraph/cmd/objectgraph/cli"
	"github.com/bureau-foundation/objectgraph/lib/codec"
	"github.com/bureau-foundation/objectgraph/lib/node"
	"github.com/bureau-foundation/objectgraph/lib/object"
	"github.com/bureau-foundation/objectgraph/lib/serializer"
)

type presence struct {
	ID      object.ID `json:"id"`
	Present bool      `json:"present"`
}

func hasCommand(stdout io.Writer) *cli.Command {
	var (
		params        common
		output        = cli.JSONOutput{Stdout: stdout}
		transportName string
	)
	return &cli.Command{
		Name:    "has",
		Summary: "Check which records a transport holds",
		Description: `Report, for each id, whether the transport holds the record. Exits
with status 1 when any record is missing.`,
		Usage: "objectgraph has <id>... [flags]",
		Args:  cli.MinArgs(1, "record id"),
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("has", pflag.ContinueOnError)
			params.addFlags(flagSet)
			output.Register(flagSet)
			flagSet.StringVar(&transportName, "transport", "", "transport to check (default: the configured local transport)")
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			cfg, logger, err := params.load()
			if err != nil {
				return err
			}
			target, release, err := open(ctx, cfg, transportName, "transport", "local", logger)
			if err != nil {
				return err
			}
			defer release()

			present, err := target.HasObjects(ctx, ids)
			if err != nil {
				return err
			}
			results := make([]presence, len(ids))
			missing := 0
			for i, id := range ids {
				results[i] = presence{ID: id, Present: present[id]}
				if !present[id] {
					missing++
				}
			}
			done, err := output.Emit(results)
			if err != nil {
				return err
			}
			if !done {
				for _, result := range results {
					state := "present"
					if !result.Present {
						state = "missing"
					}
					fmt.Fprintf(stdout, "%s\t%s\n", result.ID, state)
				}
			}
			if missing > 0 {
				return &cli.ExitError{Code: 1, Err: fmt.Errorf("%d of %d records missing from %s", missing, len(ids), target.Name())}
			}
			return nil
		},
	}
}

func getCommand(stdout io.Writer) *cli.Command {
	var (
		params        common
		transportName string
		diagnose      bool
	)
	return &cli.Command{
		Name:    "get",
		Summary: "Print a stored record",
		Description: `Write the stored form of a record to stdout. With --diagnose, print
its payload in CBOR diagnostic notation and its closure instead.`,
		Usage: "objectgraph get <id> [flags]",
		Args:  cli.ExactArgs(1, "record id"),
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("get", pflag.ContinueOnError)
			params.addFlags(flagSet)
			flagSet.StringVar(&transportName, "transport", "", "transport to read (default: the configured local transport)")
			flagSet.BoolVar(&diagnose, "diagnose", false, "print the payload as CBOR diagnostic notation")
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			id, err := object.ParseID(args[0])
			if err != nil {
				return err
			}
			cfg, logger, err := params.load()
			if err != nil {
				return err
			}
			source, release, err := open(ctx, cfg, transportName, "transport", "local", logger)
			if err != nil {
				return err
			}
			defer release()

			data, err := source.GetObject(ctx, id)
			if err != nil {
				return err
			}
			if !diagnose {
				_, err := stdout.Write(data)
				return err
			}
			record, err := object.DecodeRecord(id, data)
			if err != nil {
				return err
			}
			notation, err := codec.Diagnose(record.Payload)
			if err != nil {
				return err
			}
			verified := "verified"
			if !id.Verify(record.Payload) {
				verified = "HASH MISMATCH"
			}
			fmt.Fprintf(stdout, "id: %s (%s)\npayload: %s\nclosure: %d records\n", id, verified, notation, len(record.Closure))
			return nil
		},
	}
}

type closureEntry struct {
	ID    object.ID `json:"id"`
	Depth int       `json:"depth"`
}

func closureCommand(stdout io.Writer) *cli.Command {
	var (
		params        common
		output        = cli.JSONOutput{Stdout: stdout}
		transportName string
	)
	return &cli.Command{
		Name:    "closure",
		Summary: "List the records a record references",
		Description: `List every record the given record references, directly or
transitively, with its minimum depth. A record stored without a
closure lists only its direct references.`,
		Usage: "objectgraph closure <id> [flags]",
		Args:  cli.ExactArgs(1, "record id"),
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("closure", pflag.ContinueOnError)
			params.addFlags(flagSet)
			output.Register(flagSet)
			flagSet.StringVar(&transportName, "transport", "", "transport to read (default: the configured local transport)")
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			id, err := object.ParseID(args[0])
			if err != nil {
				return err
			}
			cfg, logger, err := params.load()
			if err != nil {
				return err
			}
			source, release, err := open(ctx, cfg, transportName, "transport", "local", logger)
			if err != nil {
				return err
			}
			defer release()

			data, err := source.GetObject(ctx, id)
			if err != nil {
				return err
			}
			record, err := object.DecodeRecord(id, data)
			if err != nil {
				return err
			}

			var entries []closureEntry
			if len(record.Closure) > 0 {
				for _, descendant := range record.Closure.IDs() {
					entries = append(entries, closureEntry{ID: descendant, Depth: record.Closure[descendant]})
				}
			} else {
				references, err := serializer.References(record.Payload)
				if err != nil {
					return &object.DeserializationError{Op: "closure", ID: id, Err: err}
				}
				for _, reference := range references {
					entries = append(entries, closureEntry{ID: reference, Depth: 1})
				}
			}

			if done, err := output.Emit(entries); done {
				return err
			}
			for _, entry := range entries {
				fmt.Fprintf(stdout, "%d\t%s\n", entry.Depth, entry.ID)
			}
			return nil
		},
	}
}

func showCommand(stdout io.Writer) *cli.Command {
	var (
		params        common
		output        = cli.JSONOutput{Stdout: stdout}
		transportName string
		tolerant      bool
	)
	return &cli.Command{
		Name:    "show",
		Summary: "Print a stored graph as a tree",
		Description: `Compose the graph rooted at a record and print it, one property per
line. Every type chain resolves to a plain node, so graphs from any
object model can be shown. With --tolerant, branches that cannot be
read are shown as null.`,
		Usage: "objectgraph show <id> [flags]",
		Args:  cli.ExactArgs(1, "record id"),
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("show", pflag.ContinueOnError)
			params.addFlags(flagSet)
			output.Register(flagSet)
			flagSet.StringVar(&transportName, "transport", "", "transport to read (default: the configured local transport)")
			flagSet.BoolVar(&tolerant, "tolerant", false, "show unreadable branches as null instead of failing")
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			id, err := object.ParseID(args[0])
			if err != nil {
				return err
			}
			cfg, logger, err := params.load()
			if err != nil {
				return err
			}
			source, release, err := open(ctx, cfg, transportName, "transport", "local", logger)
			if err != nil {
				return err
			}
			defer release()

			composer := &serializer.Composer{
				Registry: node.NewDynamicRegistry(),
				Sources:  []serializer.Source{source},
				Tolerant: tolerant,
				Logger:   logger,
			}
			root, err := composer.Compose(ctx, id)
			if err != nil {
				return err
			}
			if done, err := output.Emit(plainValue(root)); done {
				return err
			}
			writeValue(stdout, "", root)
			return nil
		},
	}
}

// plainValue converts a composed value into maps and slices for JSON.
// A node becomes an object with its type chain under "type".
func plainValue(value any) any {
	switch value := value.(type) {
	case *node.Node:
		properties := make(map[string]any, value.Len())
		for _, name := range value.Names() {
			property, _ := value.Get(name)
			properties[name] = plainValue(property)
		}
		return map[string]any{"type": value.Type(), "properties": properties}
	case []any:
		items := make([]any, len(value))
		for i, item := range value {
			items[i] = plainValue(item)
		}
		return items
	case map[string]any:
		entries := make(map[string]any, len(value))
		for key, item := range value {
			entries[key] = plainValue(item)
		}
		return entries
	default:
		return value
	}
}

func writeValue(w io.Writer, indent string, value any) {
	switch value := value.(type) {
	case *node.Node:
		fmt.Fprintf(w, "%s\n", value.Type())
		for _, name := range value.Names() {
			property, _ := value.Get(name)
			fmt.Fprintf(w, "%s  %s: ", indent, name)
			writeValue(w, indent+"  ", property)
		}
	case []any:
		fmt.Fprintf(w, "[%d]\n", len(value))
		for _, item := range value {
			fmt.Fprintf(w, "%s  - ", indent)
			writeValue(w, indent+"    ", item)
		}
	case map[string]any:
		keys := make([]string, 0, len(value))
		for key := range value {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		fmt.Fprintf(w, "{%d}\n", len(value))
		for _, key := range keys {
			fmt.Fprintf(w, "%s  %s: ", indent, key)
			writeValue(w, indent+"  ", value[key])
		}
	case nil:
		fmt.Fprintln(w, "null")
	default:
		fmt.Fprintf(w, "%v\n", value)
	}
}
