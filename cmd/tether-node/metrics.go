// SPDX-FileCopyrightText: 2026 The Tether Authors
//
// SPDX-License-Identifier: MIT

package main

import (
	"net/http"
	"net/http/pprof"

	"github.com/go-kit/kit/log/level"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// startDebug exposes prometheus metrics and pprof on addr and returns
// the instrumentation handles for the establishment loop.
func startDebug(addr string) (*prometheus.Counter, *prometheus.Gauge, *prometheus.Summary) {
	systemEvents := prometheus.NewCounterFrom(stdprometheus.CounterOpts{
		Namespace: "tether",
		Subsystem: "establish",
		Name:      "sysevents",
	}, []string{"event"})

	systemGauge := prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
		Namespace: "tether",
		Subsystem: "establish",
		Name:      "sysstats",
	}, []string{"part"})

	latency := prometheus.NewSummaryFrom(stdprometheus.SummaryOpts{
		Namespace: "tether",
		Subsystem: "establish",
		Name:      "upgrade_durrations_seconds",
	}, []string{"part"})

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

		log.Log("starting", "metrics", "addr", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			level.Error(log).Log("event", "debug server failed", "err", err)
		}
	}()

	return systemEvents, systemGauge, latency
}
