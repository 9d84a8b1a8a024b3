// Prometheus metrics for the move transform host
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package metrics holds the host's Prometheus collectors. They are
// registered with the default registry at init and served by Handler.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result labels for RetractionCommands.
const (
	ResultApplied  = "applied"
	ResultIgnored  = "ignored"
	ResultDisabled = "disabled"
	ResultError    = "error"
)

var (
	// RetractionCommands counts G10/G11 and the retraction control commands
	// by outcome.
	RetractionCommands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "klipper_retraction_commands_total",
			Help: "Firmware retraction commands by outcome",
		},
		[]string{"command", "result"},
	)

	// ZHopClamped counts hops reduced to stay below the Z limit.
	ZHopClamped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "klipper_zhop_clamped_total",
			Help: "Z-hops limited by the maximum Z position",
		},
	)

	// ZHopCleared counts hops dropped without an unretract, by reason.
	ZHopCleared = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "klipper_zhop_cleared_total",
			Help: "Z-hops cleared outside of G11",
		},
		[]string{"reason"},
	)

	// RetractionState exposes retracted and zhop flags as 0/1.
	RetractionState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "klipper_retraction_state",
			Help: "Firmware retraction state flags",
		},
		[]string{"flag"},
	)

	// ToolheadMoves counts moves accepted by the toolhead.
	ToolheadMoves = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "klipper_toolhead_moves_total",
			Help: "Moves queued on the toolhead",
		},
	)

	// APIRequests counts webhooks requests by transport and outcome.
	APIRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "klipper_api_requests_total",
			Help: "API requests served by the webhooks server",
		},
		[]string{"transport", "result"},
	)

	// TransformChainLength is the number of chain participants, tail included.
	TransformChainLength = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "klipper_transform_chain_length",
			Help: "Move transforms installed in front of the toolhead, plus the toolhead",
		},
	)
)

func init() {
	prometheus.MustRegister(
		RetractionCommands,
		ZHopClamped,
		ZHopCleared,
		RetractionState,
		ToolheadMoves,
		TransformChainLength,
		APIRequests,
	)
}

// SetRetractionState updates both state gauges.
func SetRetractionState(retracted, zhop bool) {
	RetractionState.WithLabelValues("retracted").Set(boolGauge(retracted))
	RetractionState.WithLabelValues("zhop").Set(boolGauge(zhop))
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
