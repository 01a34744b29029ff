// SPDX-FileCopyrightText: 2026 The Tether Authors
//
// SPDX-License-Identifier: MIT

// Package tether holds the shared types of the tether connection
// establishment stack: peer references, the transport capability consumed by
// the establishment loop (see package establish), the connection model and
// the error taxonomy surfaced to dialers.
package tether
