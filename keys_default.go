// SPDX-FileCopyrightText: 2026 The Tether Authors
//
// SPDX-License-Identifier: MIT

//go:build !windows
// +build !windows

package tether

import "os"

// SecretPerms are the file permissions for holding secrets.
// We expect the file to only be accessable by the owner.
var SecretPerms = os.FileMode(0400)
