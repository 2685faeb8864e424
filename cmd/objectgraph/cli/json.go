// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"encoding/json"
	"io"
	"reflect"

	"github.com/spf13/pflag"
)

// JSONOutput backs a command's --json flag. Commands register the flag
// and call Emit before formatting text:
//
//	if done, err := output.Emit(result); done {
//	    return err
//	}
type JSONOutput struct {
	Enabled bool
	Stdout  io.Writer
}

// Register adds --json to flagSet.
func (j *JSONOutput) Register(flagSet *pflag.FlagSet) {
	flagSet.BoolVar(&j.Enabled, "json", false, "print the result as JSON")
}

// Emit writes result as indented JSON when --json was given and reports
// whether it did. A nil slice is written as [].
func (j *JSONOutput) Emit(result any) (bool, error) {
	if !j.Enabled {
		return false, nil
	}
	if value := reflect.ValueOf(result); value.Kind() == reflect.Slice && value.IsNil() {
		result = reflect.MakeSlice(value.Type(), 0, 0).Interface()
	}
	encoder := json.NewEncoder(j.Stdout)
	encoder.SetIndent("", "  ")
	return true, encoder.Encode(result)
}
