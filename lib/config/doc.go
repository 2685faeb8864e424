// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the configuration of the objectgraph command:
// named transports, which of them serve as the local cache and the
// remote, and logging.
//
// Configuration is loaded from a single file specified by either the
// OBJECTGRAPH_CONFIG environment variable (via [Load]) or a --config
// flag (via [LoadFile]). There are no fallbacks and no automatic file
// search. YAML is the default format; files ending in .json or .jsonc
// are read as JSON with comments and trailing commas.
//
// Variable expansion is performed on paths, URLs, and tokens after
// loading: ${VAR} and ${VAR:-default} patterns are expanded from the
// environment, which is how tokens stay out of config files.
//
//	local: cache
//	remote: server
//	transports:
//	  cache:
//	    kind: sqlite
//	    path: ${HOME}/.cache/objectgraph/objects.db
//	  server:
//	    kind: remote
//	    url: https://objects.example.com
//	    token: ${OBJECTGRAPH_TOKEN}
//
// [Config.Open] builds a transport.Transport from a named entry.
package config
