// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for streamreplay.
//
// Configuration is loaded from a single file named by either the
// STREAMREPLAY_CONFIG environment variable (via [Load]) or a --config
// flag (via [LoadFile]). There is no automatic file search.
//
// The file may carry development and production sections that override
// base values when [Config].Environment matches. Without an explicit
// production section, production lowers the worker log level to WARN.
//
// Path fields are expanded after loading: ${HOME}, ${STREAMREPLAY_ROOT}
// and ${VAR:-default} patterns. No other environment variables
// override config values.
//
// [Config.WorkerSettings] and [Config.SpawnOptions] translate the read,
// replay and worker sections into what [worker.Spawn] consumes.
package config
