package main

import "github.com/prometheus/client_golang/prometheus"

// metricsSet is the daemon's Prometheus instrumentation (observability is
// an ambient concern, not a Non-goal). The counters are kept in their own
// registry; neither the control socket nor any other endpoint serves it.
type metricsSet struct {
	registry *prometheus.Registry

	peersConfigured prometheus.Counter
	packetsSent     prometheus.Counter
	packetsToTUN    prometheus.Counter
	handshakesSent  prometheus.Counter
	replayDrops     prometheus.Counter
	authFailures    prometheus.Counter
}

func newMetricsSet() *metricsSet {
	m := &metricsSet{
		registry: prometheus.NewRegistry(),
		peersConfigured: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fastd", Name: "peers_configured_total",
			Help: "Number of peers present in the loaded configuration.",
		}),
		packetsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fastd", Name: "packets_sent_total",
			Help: "Number of data datagrams transmitted.",
		}),
		packetsToTUN: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fastd", Name: "packets_to_tun_total",
			Help: "Number of decrypted payloads delivered to the TUN/TAP device.",
		}),
		handshakesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fastd", Name: "handshakes_sent_total",
			Help: "Number of handshake packets transmitted.",
		}),
		replayDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fastd", Name: "replay_drops_total",
			Help: "Number of data packets dropped by replay/reorder-window checks.",
		}),
		authFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fastd", Name: "auth_failures_total",
			Help: "Number of packets dropped due to AEAD authentication failure.",
		}),
	}
	m.registry.MustRegister(
		m.peersConfigured, m.packetsSent, m.packetsToTUN,
		m.handshakesSent, m.replayDrops, m.authFailures,
	)
	return m
}
