// Copyright (c) A2A Registry Authors.
// Licensed under the MIT License.

/*
Package main provides the registry's server executable.

# Overview

cmd/registryd is the registry's entry point: it wires configuration,
the relational store, the search index, the cache layer, rate
limiting, AuthZ, and federation into an HTTP server, and exposes
database migration, health-check, and version subcommands alongside
serve.

# Core types

  - Server — owns every collaborator's lifecycle: construction order on
    Start, a fixed shutdown order on Stop (see Graceful shutdown below).

# Capabilities

  - Subcommands: serve (start the server), migrate (schema migrations),
    version, health.
  - Structured logging via zap, configured from Config.Log.
  - Prometheus metrics at /metrics when enabled.
  - Graceful shutdown: signal → stop federation scheduler → stop search
    reconciler → close search index → close HTTP server → close DB pool →
    flush and shut down OpenTelemetry exporters.
  - Build metadata (Version, BuildTime, GitCommit) injected via ldflags.
*/
package main
