// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli provides the command-line framework for the streamreplay
// operator CLI.
//
// The central type is [Command], a named subcommand with optional
// nested [Command.Subcommands], a [pflag.FlagSet] factory and a Run
// function. Commands are assembled into a tree by the commands package
// and dispatched via [Command.Execute], which handles flag parsing,
// subcommand routing and help output with examples.
//
// Flags are declared as struct tags and bound with [FlagsFromParams].
// An unknown subcommand or flag gets a "did you mean" suggestion when a
// known name is within edit distance 3.
//
// [ConfigParams] adds the --config flag and resolves the YAML
// configuration the same way for every command that needs it.
package cli
