package server

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/louisbranch/cuerposonoro/internal/services/motion/features"
	"github.com/louisbranch/cuerposonoro/internal/services/motion/pose"
	"github.com/louisbranch/cuerposonoro/internal/services/motion/storage"
	"golang.org/x/net/websocket"
)

type fakeLedger struct {
	mu       sync.Mutex
	recorded chan storage.SessionRecord
	sessions map[string]storage.SessionRecord
	page     storage.SessionPage
	listOpts storage.ListOptions
	listErr  error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		recorded: make(chan storage.SessionRecord, 8),
		sessions: make(map[string]storage.SessionRecord),
	}
}

func (f *fakeLedger) RecordSession(_ context.Context, record storage.SessionRecord) error {
	f.mu.Lock()
	f.sessions[record.ID] = record
	f.mu.Unlock()
	f.recorded <- record
	return nil
}

func (f *fakeLedger) GetSession(_ context.Context, id string) (storage.SessionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.sessions[id]
	if !ok {
		return storage.SessionRecord{}, storage.ErrNotFound
	}
	return record, nil
}

func (f *fakeLedger) ListSessions(_ context.Context, opts storage.ListOptions) (storage.SessionPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listOpts = opts
	if f.listErr != nil {
		return storage.SessionPage{}, f.listErr
	}
	return f.page, nil
}

func (f *fakeLedger) waitRecord(t *testing.T) storage.SessionRecord {
	t.Helper()
	select {
	case record := <-f.recorded:
		return record
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for session record")
		return storage.SessionRecord{}
	}
}

func uniformFrame(x, y float64) pose.Frame {
	frame := make(pose.Frame, pose.LandmarkCount)
	for i := range frame {
		frame[i] = pose.Landmark{X: x, Y: y, Visibility: 1}
	}
	return frame
}

func movedFrame(frame pose.Frame, idx int, x, y float64) pose.Frame {
	moved := append(pose.Frame(nil), frame...)
	moved[idx].X = x
	moved[idx].Y = y
	return moved
}

func dialWSWithHandler(t *testing.T, handler http.Handler, path string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	conn, err := dialWSWithServerURL(srv.URL, path, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
	})
	return conn
}

func dialWSWithServerURL(httpURL string, path string, header http.Header) (*websocket.Conn, error) {
	wsURL := "ws" + strings.TrimPrefix(httpURL, "http") + path
	cfg, err := websocket.NewConfig(wsURL, httpURL)
	if err != nil {
		return nil, err
	}
	if header != nil {
		cfg.Header = header
	}
	return websocket.DialConfig(cfg)
}

func sendFrame(t *testing.T, conn *websocket.Conn, frame pose.Frame) {
	t.Helper()
	if err := websocket.JSON.Send(conn, frame); err != nil {
		t.Fatalf("send frame: %v", err)
	}
}

func sendText(t *testing.T, conn *websocket.Conn, payload string) {
	t.Helper()
	if err := websocket.Message.Send(conn, payload); err != nil {
		t.Fatalf("send text: %v", err)
	}
}

func readVector(t *testing.T, conn *websocket.Conn) features.Vector {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("set read deadline: %v", err)
	}
	var raw string
	if err := websocket.Message.Receive(conn, &raw); err != nil {
		t.Fatalf("receive vector: %v", err)
	}
	var keys map[string]float64
	if err := json.Unmarshal([]byte(raw), &keys); err != nil {
		t.Fatalf("decode vector %q: %v", raw, err)
	}
	if len(keys) != 5 {
		t.Fatalf("vector keys = %v, want exactly five", keys)
	}
	var vector features.Vector
	if err := json.Unmarshal([]byte(raw), &vector); err != nil {
		t.Fatalf("decode vector: %v", err)
	}
	return vector
}

func expectClosed(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("set read deadline: %v", err)
	}
	var raw string
	err := websocket.Message.Receive(conn, &raw)
	if err == nil {
		t.Fatalf("expected closed connection, received %q", raw)
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		t.Fatal("connection stayed open")
	}
}

func vectorsClose(a, b features.Vector) bool {
	const tol = 1e-12
	return math.Abs(a.Energy-b.Energy) <= tol &&
		math.Abs(a.Symmetry-b.Symmetry) <= tol &&
		math.Abs(a.Smoothness-b.Smoothness) <= tol &&
		math.Abs(a.ArmAngle-b.ArmAngle) <= tol &&
		math.Abs(a.VerticalExtension-b.VerticalExtension) <= tol
}

func TestWSTwoFrameSession(t *testing.T) {
	cfg := features.DefaultConfig()
	conn := dialWSWithHandler(t, NewHandler(cfg), "/ws")

	f1 := uniformFrame(0.5, 0.5)
	f2 := movedFrame(f1, pose.RightWrist, 0.7, 0.3)

	sendFrame(t, conn, f1)
	first := readVector(t, conn)
	if first.Energy != 0 || first.Smoothness != 0.5 || first.Symmetry != 0 {
		t.Fatalf("first vector = %+v, want energy 0, smoothness 0.5, symmetry 0", first)
	}
	if want := cfg.Raw(f1, nil); !vectorsClose(first, want) {
		t.Fatalf("first vector = %+v, want raw %+v", first, want)
	}

	sendFrame(t, conn, f2)
	second := readVector(t, conn)
	if second.Energy <= 0 {
		t.Fatalf("second energy = %v, want > 0", second.Energy)
	}
	if second.Symmetry <= 0 {
		t.Fatalf("second symmetry = %v, want > 0", second.Symmetry)
	}

	reference := features.NewExtractor(cfg)
	reference.Calculate(f1, nil)
	if want := reference.Calculate(f2, f1); !vectorsClose(second, want) {
		t.Fatalf("second vector = %+v, want %+v", second, want)
	}
}

func TestWSMalformedFramesReturnNeutralAndStayOpen(t *testing.T) {
	conn := dialWSWithHandler(t, NewHandler(features.DefaultConfig()), "/ws")

	full, err := json.Marshal(uniformFrame(0.5, 0.5))
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	overflowing := strings.Replace(string(full), `"x":0.5`, `"x":1e400`, 1)

	for _, payload := range []string{
		`[]`,
		`{"landmarks":[]}`,
		`[{"x":0.5,"y":0.5}]`,
		`null`,
		`"text"`,
		overflowing,
	} {
		sendText(t, conn, payload)
		if got := readVector(t, conn); got != features.Neutral() {
			t.Fatalf("payload %s: vector = %+v, want neutral", payload, got)
		}
	}

	sendFrame(t, conn, uniformFrame(0.5, 0.5))
	if got := readVector(t, conn); got.Smoothness != 0.5 || got.Energy != 0 {
		t.Fatalf("valid frame after malformed ones = %+v", got)
	}
}

func TestWSEmptyFrameDoesNotDisturbSmoothing(t *testing.T) {
	cfg := features.DefaultConfig()
	f1 := uniformFrame(0.5, 0.5)
	f2 := movedFrame(f1, pose.LeftWrist, 0.2, 0.1)

	withGap := dialWSWithHandler(t, NewHandler(cfg), "/ws")
	sendFrame(t, withGap, f1)
	readVector(t, withGap)
	sendText(t, withGap, `[]`)
	readVector(t, withGap)
	sendFrame(t, withGap, f2)
	gapResult := readVector(t, withGap)

	direct := dialWSWithHandler(t, NewHandler(cfg), "/ws")
	sendFrame(t, direct, f1)
	readVector(t, direct)
	sendFrame(t, direct, f2)
	directResult := readVector(t, direct)

	if gapResult != directResult {
		t.Fatalf("result with empty frame = %+v, without = %+v", gapResult, directResult)
	}
}

func TestWSInvalidJSONClosesConnection(t *testing.T) {
	ledger := newFakeLedger()
	handler := newHandler(handlerOptions{features: features.DefaultConfig(), ledger: ledger})
	conn := dialWSWithHandler(t, handler, "/ws")

	sendFrame(t, conn, uniformFrame(0.5, 0.5))
	readVector(t, conn)
	sendText(t, conn, `[{"x":`)
	expectClosed(t, conn)

	record := ledger.waitRecord(t)
	if record.CloseReason != storage.CloseDecode {
		t.Fatalf("close reason = %q, want %q", record.CloseReason, storage.CloseDecode)
	}
	if record.Frames != 1 || record.DecodeFaults != 1 {
		t.Fatalf("record = %+v, want 1 frame and 1 decode fault", record)
	}
}

func TestWSBinaryFrameClosesConnection(t *testing.T) {
	ledger := newFakeLedger()
	handler := newHandler(handlerOptions{features: features.DefaultConfig(), ledger: ledger})
	conn := dialWSWithHandler(t, handler, "/ws")

	payload, err := json.Marshal(uniformFrame(0.5, 0.5))
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	if err := websocket.Message.Send(conn, payload); err != nil {
		t.Fatalf("send binary: %v", err)
	}
	expectClosed(t, conn)

	if record := ledger.waitRecord(t); record.CloseReason != storage.CloseDecode {
		t.Fatalf("close reason = %q, want %q", record.CloseReason, storage.CloseDecode)
	}
}

func TestWSOversizedPayloadClosesConnection(t *testing.T) {
	ledger := newFakeLedger()
	handler := newHandler(handlerOptions{features: features.DefaultConfig(), ledger: ledger})
	conn := dialWSWithHandler(t, handler, "/ws")

	_ = websocket.Message.Send(conn, `"`+strings.Repeat("a", maxFramePayloadBytes+1)+`"`)
	expectClosed(t, conn)

	if record := ledger.waitRecord(t); record.CloseReason != storage.CloseDecode {
		t.Fatalf("close reason = %q, want %q", record.CloseReason, storage.CloseDecode)
	}
}

func TestWSPreservesFrameOrder(t *testing.T) {
	cfg := features.DefaultConfig()
	conn := dialWSWithHandler(t, NewHandler(cfg), "/ws")

	var frames []pose.Frame
	for i := 0; i < 20; i++ {
		frame := uniformFrame(0.5, 0.5)
		if i%5 == 3 {
			frame = nil
		} else {
			frame = movedFrame(frame, pose.RightWrist, 0.5+float64(i)*0.02, 0.5-float64(i)*0.01)
		}
		frames = append(frames, frame)
	}
	for _, frame := range frames {
		if frame == nil {
			sendText(t, conn, `[]`)
			continue
		}
		sendFrame(t, conn, frame)
	}

	reference := features.NewExtractor(cfg)
	var previous pose.Frame
	for i, frame := range frames {
		want := reference.Calculate(frame, previous)
		if !frame.Empty() {
			previous = frame
		}
		if got := readVector(t, conn); !vectorsClose(got, want) {
			t.Fatalf("frame %d: vector = %+v, want %+v", i, got, want)
		}
	}
}

func TestWSSessionsAreIndependent(t *testing.T) {
	cfg := features.DefaultConfig()
	srv := httptest.NewServer(NewHandler(cfg))
	t.Cleanup(srv.Close)

	first, err := dialWSWithServerURL(srv.URL, "/ws", nil)
	if err != nil {
		t.Fatalf("dial first: %v", err)
	}
	defer first.Close()
	second, err := dialWSWithServerURL(srv.URL, "/ws", nil)
	if err != nil {
		t.Fatalf("dial second: %v", err)
	}
	defer second.Close()

	sendFrame(t, first, uniformFrame(0.5, 0.5))
	readVector(t, first)
	sendFrame(t, first, uniformFrame(0.6, 0.4))
	readVector(t, first)

	sendFrame(t, second, uniformFrame(0.6, 0.4))
	if got := readVector(t, second); got.Energy != 0 || got.Smoothness != 0.5 {
		t.Fatalf("second session leaked state: %+v", got)
	}
}

func TestWSPeerCloseIsRecorded(t *testing.T) {
	ledger := newFakeLedger()
	handler := newHandler(handlerOptions{features: features.DefaultConfig(), ledger: ledger})
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	conn, err := dialWSWithServerURL(srv.URL, "/ws", nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	sendFrame(t, conn, uniformFrame(0.5, 0.5))
	readVector(t, conn)
	sendText(t, conn, `[]`)
	readVector(t, conn)
	if err := conn.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	record := ledger.waitRecord(t)
	if record.CloseReason != storage.ClosePeer {
		t.Fatalf("close reason = %q, want %q", record.CloseReason, storage.ClosePeer)
	}
	if record.Frames != 2 || record.EmptyFrames != 1 || record.DecodeFaults != 0 {
		t.Fatalf("record = %+v", record)
	}
	if record.ID == "" || record.UserID != "" {
		t.Fatalf("record identity = id %q user %q", record.ID, record.UserID)
	}
	if record.EndedAt.Before(record.StartedAt) {
		t.Fatalf("ended %v before started %v", record.EndedAt, record.StartedAt)
	}
}
