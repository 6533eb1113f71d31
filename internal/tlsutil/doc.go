// Copyright (c) A2A Registry Authors.
// Licensed under the MIT License.

// Package tlsutil provides the registry's hardened TLS defaults, shared by
// every outbound HTTP client that reaches an operator-supplied URL: the
// Card Fetcher's remote fetches and the Federation Manager's peer syncs.
// TLS 1.2 minimum, AEAD-only cipher suites.
package tlsutil
