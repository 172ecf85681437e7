// Package observability holds prometheus metrics for the discovery service.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ScansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "discovery_scans_total",
		Help: "The total number of scans by final state",
	}, []string{"state"})

	ScanDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "discovery_scan_duration_seconds",
		Help:    "Duration of full dialog scans",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
	})

	DialogsScanned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "discovery_dialogs_scanned_total",
		Help: "The total number of dialogs processed across all scans",
	})

	ChatsDiscovered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "discovery_chats_discovered_total",
		Help: "Chat records written by outcome (inserted or updated)",
	}, []string{"outcome"})

	ScanErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "discovery_scan_errors_total",
		Help: "Per-dialog errors encountered during scans",
	})

	StoredChats = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "discovery_stored_chats",
		Help: "Current number of stored chat records by type",
	}, []string{"type"})

	ConfiguredGroups = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "discovery_configured_groups",
		Help: "Current number of groups configured for forwarding",
	})

	WebsocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "discovery_websocket_clients",
		Help: "Currently connected status stream observers",
	})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "discovery_http_requests_total",
		Help: "HTTP requests by route and status code",
	}, []string{"route", "status"})
)
