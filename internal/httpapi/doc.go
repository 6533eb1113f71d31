// Copyright (c) A2A Registry Authors.
// Licensed under the MIT License.

// Package httpapi is the registry's HTTP boundary: it implements the
// external interface table bit-exact on paths, methods, and status
// codes, translating between wire JSON and the internal discovery,
// publish, and federation services. It is the only package that maps a
// types.ErrorCode onto an HTTP status.
package httpapi
