// SPDX-FileCopyrightText: 2026 The Tether Authors
//
// SPDX-License-Identifier: MIT

package tether

import "os"

// SecretPerms are the file permissions for holding secrets.
// Windows has no executable bit to strip.
var SecretPerms = os.FileMode(0666)
