// Package storage defines persistence contracts for the motion session ledger.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates a requested session record is missing.
var ErrNotFound = errors.New("record not found")

// CloseReason describes why a websocket session ended.
type CloseReason string

const (
	ClosePeer      CloseReason = "peer_closed"
	CloseDecode    CloseReason = "decode_fault"
	CloseTransport CloseReason = "transport_fault"
)

// SessionRecord summarizes one finished websocket session.
type SessionRecord struct {
	ID           string
	UserID       string
	StartedAt    time.Time
	EndedAt      time.Time
	Frames       int64
	EmptyFrames  int64
	DecodeFaults int64
	CloseReason  CloseReason
}

// Condition is a SQL WHERE fragment with positional parameters.
type Condition struct {
	Clause string
	Params []any
}

// ListOptions selects one page of session records.
type ListOptions struct {
	PageSize  int
	Offset    int
	Condition Condition
}

// SessionPage stores one page of session records, newest first.
type SessionPage struct {
	Sessions   []SessionRecord
	NextOffset int
}

// SessionStore persists session ledger records.
type SessionStore interface {
	RecordSession(ctx context.Context, record SessionRecord) error
	GetSession(ctx context.Context, id string) (SessionRecord, error)
	ListSessions(ctx context.Context, opts ListOptions) (SessionPage, error)
}
