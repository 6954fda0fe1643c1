// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec is the CBOR encoding used for roomkeeper's on-disk
// state (the session snapshot and the device key account).
//
// Encoding is deterministic (RFC 8949 core deterministic encoding), so
// an unchanged snapshot always produces identical bytes. Types that
// implement encoding.TextMarshaler (the ref identifiers) are written
// as CBOR text strings. Times are written as RFC 3339 strings with
// nanoseconds so that route-refresh timestamps survive a round trip.
//
// Files on disk go through MarshalFile and UnmarshalFile, which wrap
// the body in a {kind, version, body} envelope.
package codec
