// Package timeouts defines shared timeout constants used across services.
package timeouts

import "time"

// ReadHeader limits how long an HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long an HTTP server waits for in-flight requests
// during graceful shutdown. Open websocket streams are not waited on.
const Shutdown = 5 * time.Second

// Probe caps how long a health probe waits for SERVING.
const Probe = 3 * time.Second

// LedgerWrite caps a single session ledger write after a stream closes.
const LedgerWrite = 2 * time.Second
