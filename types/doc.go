// Copyright (c) A2A Registry Authors.
// Licensed under the MIT License.

/*
Package types provides the registry's shared, dependency-free building
blocks: a closed error taxonomy and context-value helpers for
request-scoped identifiers (tenant, principal, request id).

Every other package — store, search, cache, discovery, publish,
federation, authz, httpapi — depends on types, never the other way
around, so it carries no imports of its own beyond the standard
library.
*/
package types
