// Copyright (c) A2A Registry Authors.
// Licensed under the MIT License.

// Package cache implements the registry's Cache Layer (C8): a Redis-backed
// read-through cache for list, get-card, well-known, and (optionally)
// search responses, keyed by (endpoint, tenant, principal, query
// fingerprint) with per-endpoint-class TTLs and prefix-based invalidation
// on writes.
package cache
