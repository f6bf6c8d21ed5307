// Copyright 2024-2026 Aiku AI

// Package metrics holds the bridge's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Store -> chat
	StoreEventsReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roombridge_store_events_received_total",
			Help: "Total message records received from the store watch",
		},
	)

	StoreEventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roombridge_store_events_dropped_total",
			Help: "Total store events not relayed to chat",
		},
		[]string{"reason"}, // "invalid", "bridge_origin", "queue_full", "replay"
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "roombridge_delivery_queue_depth",
			Help: "Events waiting for the delivery pump",
		},
	)

	Deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roombridge_deliveries_total",
			Help: "Chat sends made by the delivery pump",
		},
		[]string{"target", "result"}, // target "primary"/"mirror", result "ok"/"error"
	)

	DeliveryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "roombridge_delivery_duration_seconds",
			Help:    "Time to deliver one event to chat, mirror included",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	PumpErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roombridge_pump_errors_total",
			Help: "Events abandoned by the pump after an unexpected error",
		},
	)

	DedupCursor = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "roombridge_dedup_cursor_ms",
			Help: "Highest store timestamp relayed to chat",
		},
	)

	// Chat -> store
	ChatMessagesRelayed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roombridge_chat_messages_relayed_total",
			Help: "Chat messages written to the store",
		},
		[]string{"sender"}, // "linked" or "unlinked"
	)

	ReactionsRelayed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roombridge_reactions_relayed_total",
			Help: "Reactions written to the store",
		},
		[]string{"source"}, // "command", "palette", "native"
	)

	StoreWriteErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roombridge_store_write_errors_total",
			Help: "Failed writes to the store",
		},
		[]string{"collection"},
	)

	// Commands and linking
	Commands = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roombridge_commands_total",
			Help: "Chat commands handled",
		},
		[]string{"command"},
	)

	LinkOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roombridge_link_operations_total",
			Help: "Link and unlink attempts by outcome",
		},
		[]string{"op", "result"},
	)
)
