// Copyright (c) A2A Registry Authors.
// Licensed under the MIT License.

// Package telemetry wraps OpenTelemetry SDK setup for the registry's
// distributed traces and metrics, exported over OTLP/gRPC when enabled.
// With telemetry disabled it hands back noop providers so callers never
// need a conditional.
package telemetry
