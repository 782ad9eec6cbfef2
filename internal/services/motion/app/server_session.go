package server

import (
	"time"

	"github.com/louisbranch/cuerposonoro/internal/services/motion/features"
	"github.com/louisbranch/cuerposonoro/internal/services/motion/pose"
	"github.com/louisbranch/cuerposonoro/internal/services/motion/storage"
)

// motionSession is owned by exactly one connection goroutine and is never
// shared, so it carries no lock.
type motionSession struct {
	id        string
	userID    string
	startedAt time.Time
	extractor *features.Extractor

	// previous holds the last non-empty frame.
	previous pose.Frame

	frames       int64
	emptyFrames  int64
	decodeFaults int64
}

func newMotionSession(id, userID string, cfg features.Config, startedAt time.Time) *motionSession {
	return &motionSession{
		id:        id,
		userID:    userID,
		startedAt: startedAt,
		extractor: features.NewExtractor(cfg),
	}
}

func (s *motionSession) process(frame pose.Frame) features.Vector {
	s.frames++
	if frame.Empty() {
		s.emptyFrames++
		return s.extractor.Calculate(frame, s.previous)
	}
	vector := s.extractor.Calculate(frame, s.previous)
	s.previous = frame
	return vector
}

func (s *motionSession) record(reason storage.CloseReason, endedAt time.Time) storage.SessionRecord {
	return storage.SessionRecord{
		ID:           s.id,
		UserID:       s.userID,
		StartedAt:    s.startedAt,
		EndedAt:      endedAt,
		Frames:       s.frames,
		EmptyFrames:  s.emptyFrames,
		DecodeFaults: s.decodeFaults,
		CloseReason:  reason,
	}
}
