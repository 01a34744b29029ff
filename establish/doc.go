// SPDX-FileCopyrightText: 2026 The Tether Authors
//
// SPDX-License-Identifier: MIT

// Package establish drives connection establishment for one node identity:
// it owns the transport listener, admits outbound dial requests, runs the
// pending upgrade pools for both origins and forwards every successfully
// upgraded connection to the notification channel exactly once.
//
// All state transitions happen on the single Serve loop; there is no
// concurrent mutator for the pools or the pending counters.
package establish
