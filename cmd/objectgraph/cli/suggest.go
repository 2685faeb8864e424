// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"strings"

	"github.com/spf13/pflag"
)

// maxSuggestionDistance is the largest edit distance still offered as
// a "did you mean" suggestion.
const maxSuggestionDistance = 3

// closest returns the candidate nearest to input, or "" when none is
// within maxSuggestionDistance. Ties go to the earlier candidate.
func closest(input string, candidates []string) string {
	best, bestDistance := "", maxSuggestionDistance+1
	for _, candidate := range candidates {
		if distance := editDistance(input, candidate); distance < bestDistance {
			best, bestDistance = candidate, distance
		}
	}
	return best
}

// unknownFlag returns the name of the first flag in args that flagSet
// does not define, without dashes or value.
func unknownFlag(args []string, flagSet *pflag.FlagSet) string {
	for _, arg := range args {
		if arg == "--" {
			return ""
		}
		name, isFlag := strings.CutPrefix(arg, "-")
		if !isFlag || name == "" {
			continue
		}
		long := strings.HasPrefix(name, "-")
		name, _, _ = strings.Cut(strings.TrimPrefix(name, "-"), "=")
		if long && flagSet.Lookup(name) == nil {
			return name
		}
		if !long && flagSet.ShorthandLookup(name[:1]) == nil {
			return name
		}
	}
	return ""
}

func flagNames(flagSet *pflag.FlagSet) []string {
	var names []string
	flagSet.VisitAll(func(f *pflag.Flag) {
		names = append(names, f.Name)
	})
	return names
}

// editDistance is the Levenshtein distance between a and b, computed
// over two alternating rows.
func editDistance(a, b string) int {
	if len(a) < len(b) {
		a, b = b, a
	}
	previous := make([]int, len(b)+1)
	current := make([]int, len(b)+1)
	for j := range previous {
		previous[j] = j
	}
	for i := 1; i <= len(a); i++ {
		current[0] = i
		for j := 1; j <= len(b); j++ {
			substitution := previous[j-1]
			if a[i-1] != b[j-1] {
				substitution++
			}
			current[j] = min(previous[j]+1, current[j-1]+1, substitution)
		}
		previous, current = current, previous
	}
	return previous[len(b)]
}
