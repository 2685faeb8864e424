// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the small command framework behind the objectgraph
// binary: a tree of [Command] values with pflag flag sets, positional
// argument validators, generated help, and "did you mean" suggestions
// for mistyped commands and flags.
//
// [ExitError] carries a status code out to main, and [JSONOutput]
// implements the --json flag shared by commands with structured
// results.
package cli
