package main

import "time"

const (
	appName = "sensorgames"
	version = "0.3.0"

	defaultSocketPath = "/tmp/sensorgames.sock"
	defaultHTTPListen = ":8080"

	// eventQueueSize bounds the daemon loop's inbound queue. Sensor samples
	// are dropped, never blocked on, when it is full.
	eventQueueSize = 256

	// broadcastQueueSize bounds presentation events waiting for the WS
	// broadcaster.
	broadcastQueueSize = 256

	// acquireTimeout bounds device opening on Start.
	acquireTimeout = 3 * time.Second

	// requestTimeout bounds an IPC/HTTP round-trip through the daemon loop.
	requestTimeout = 5 * time.Second

	// metricCoalesceWindow is the maximum time window during which bursty
	// metric updates are coalesced (latest-wins) before broadcasting.
	metricCoalesceWindow = 50 * time.Millisecond
)
