// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"testing"

	"github.com/spf13/pflag"
)

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"", "seek", 4},
		{"seek", "seek", 0},
		{"sek", "seek", 1},
		{"inpsect", "inspect", 2},
		{"kitten", "sitting", 3},
	}
	for _, test := range tests {
		if got := levenshtein(test.a, test.b); got != test.want {
			t.Errorf("levenshtein(%q, %q) = %d, want %d", test.a, test.b, got, test.want)
		}
		if got := levenshtein(test.b, test.a); got != test.want {
			t.Errorf("levenshtein(%q, %q) = %d, want %d", test.b, test.a, got, test.want)
		}
	}
}

func TestSuggestFlag(t *testing.T) {
	flagSet := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flagSet.Bool("remove-jitter", false, "")
	flagSet.StringP("output", "o", "", "")

	tests := []struct {
		args []string
		want string
	}{
		{[]string{"--remove-jiter"}, "--remove-jitter"},
		{[]string{"-o", "x", "--outptu=y"}, "--output"},
		{[]string{"--completely-different"}, ""},
		{[]string{"positional"}, ""},
	}
	for _, test := range tests {
		if got := suggestFlag(test.args, flagSet); got != test.want {
			t.Errorf("suggestFlag(%v) = %q, want %q", test.args, got, test.want)
		}
	}
}
