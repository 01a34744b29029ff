// SPDX-FileCopyrightText: 2026 The Tether Authors
//
// SPDX-License-Identifier: MIT

package testutils

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/go-kit/kit/log"
)

// NewRelativeTimeLogger returns a logfmt logger stamping each line with the
// time since its creation. Handy for eyeballing test orderings.
func NewRelativeTimeLogger(w io.Writer) log.Logger {
	if w == nil {
		w = os.Stderr
	}

	var rtl relTimeLogger
	rtl.start = time.Now()

	mainLog := log.NewLogfmtLogger(w)
	return log.With(mainLog, "t", log.Valuer(rtl.diffTime))
}

type relTimeLogger struct {
	sync.Mutex

	start time.Time
}

func (rtl *relTimeLogger) diffTime() interface{} {
	rtl.Lock()
	defer rtl.Unlock()
	since := time.Since(rtl.start)
	return since
}
