// Copyright (c) A2A Registry Authors.
// Licensed under the MIT License.

/*
Package metrics provides the registry's Prometheus instrumentation,
covering HTTP, federation, search, cache, and database concerns.

# Overview

Collector registers and records Prometheus metrics through promauto's
auto-registration, so callers never manage a *prometheus.Registry by
hand. Every metric is namespaced and label-grouped for Grafana-style
dashboards and alerting.

# Core types

  - Collector: holds the Counter/Histogram/Gauge vectors, grouped by
    concern.

# Capabilities

  - HTTP metrics: request count, duration, request/response size, by
    method/path/status (status bucketed to 2xx/3xx/4xx/5xx).
  - Federation metrics: sync run count and duration by peer/outcome,
    matching a Sync Run's own outcome taxonomy (internal/store).
  - Search metrics: index queue depth and reconciliation lag, backing
    the Search Indexer's staleness budget (§4's STALENESS_BUDGET_MS).
  - Cache metrics: hit/miss counts by endpoint class.
  - Database metrics: open/idle connection gauges, query duration
    histogram, by operation.
*/
package metrics
