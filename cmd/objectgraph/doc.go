// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Objectgraph is the operator CLI for content-addressed object graph
// stores. It copies graphs between the transports named in its
// configuration file (copy), inspects records (has, get, closure), and
// serves a transport to peers over the object protocol (serve).
package main
