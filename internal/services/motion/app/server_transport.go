package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/louisbranch/cuerposonoro/internal/platform/errors"
	"github.com/louisbranch/cuerposonoro/internal/platform/id"
	"github.com/louisbranch/cuerposonoro/internal/platform/requestctx"
	"github.com/louisbranch/cuerposonoro/internal/platform/timeouts"
	"github.com/louisbranch/cuerposonoro/internal/services/motion/features"
	"github.com/louisbranch/cuerposonoro/internal/services/motion/pose"
	"github.com/louisbranch/cuerposonoro/internal/services/motion/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/net/websocket"
)

const (
	tokenCookieName = "cs_token"
	tokenQueryParam = "access_token"

	maxFramePayloadBytes = 64 * 1024

	tracerName = "github.com/louisbranch/cuerposonoro/internal/services/motion/app"
)

var errBinaryFrame = errors.New("binary frames are not accepted")

// frameCodec exchanges JSON text messages and refuses binary payloads.
var frameCodec = websocket.Codec{
	Marshal: func(v any) ([]byte, byte, error) {
		data, err := json.Marshal(v)
		return data, websocket.TextFrame, err
	},
	Unmarshal: func(data []byte, payloadType byte, v any) error {
		if payloadType != websocket.TextFrame {
			return errBinaryFrame
		}
		target, ok := v.(*[]byte)
		if !ok {
			return fmt.Errorf("unsupported receive target %T", v)
		}
		*target = data
		return nil
	},
}

type handlerOptions struct {
	features   features.Config
	authorizer wsAuthorizer
	ledger     storage.SessionStore
	staticDir  string
}

// NewHandler creates motion routes without auth or a session ledger.
func NewHandler(cfg features.Config) http.Handler {
	return newHandler(handlerOptions{features: cfg})
}

func newHandler(opts handlerOptions) http.Handler {
	tracer := otel.Tracer(tracerName)
	mux := http.NewServeMux()
	mux.HandleFunc("/up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	wsHandler := websocket.Handler(func(conn *websocket.Conn) {
		handleWSConn(conn, opts.features, opts.ledger, tracer)
	})
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		r, ok := authenticateRequest(w, r, opts.authorizer)
		if !ok {
			return
		}
		wsHandler.ServeHTTP(w, r)
	})

	ledger := ledgerHandlers{store: opts.ledger}
	mux.HandleFunc("GET /sessions", func(w http.ResponseWriter, r *http.Request) {
		if r, ok := authenticateRequest(w, r, opts.authorizer); ok {
			ledger.list(w, r)
		}
	})
	mux.HandleFunc("GET /sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r, ok := authenticateRequest(w, r, opts.authorizer); ok {
			ledger.get(w, r)
		}
	})

	if opts.staticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(opts.staticDir)))
	}
	return mux
}

// authenticateRequest resolves the caller when auth is configured and
// returns the request carrying the user id.
func authenticateRequest(w http.ResponseWriter, r *http.Request, authorizer wsAuthorizer) (*http.Request, bool) {
	if authorizer == nil {
		return r, true
	}
	accessToken := accessTokenFromRequest(r)
	if accessToken == "" {
		log.Printf("motion: unauthorized: missing token remote=%s path=%q", r.RemoteAddr, r.URL.Path)
		writeError(w, apperrors.New(apperrors.CodeUnauthenticated, "authentication required"))
		return r, false
	}
	userID, err := authorizer.Authenticate(r.Context(), accessToken)
	if err != nil || strings.TrimSpace(userID) == "" {
		if err != nil {
			log.Printf("motion: unauthorized: remote=%s path=%q err=%v", r.RemoteAddr, r.URL.Path, err)
		}
		writeError(w, apperrors.New(apperrors.CodeUnauthenticated, "authentication required"))
		return r, false
	}
	return r.WithContext(requestctx.WithUserID(r.Context(), userID)), true
}

func accessTokenFromRequest(r *http.Request) string {
	if r == nil {
		return ""
	}
	if token := strings.TrimSpace(r.URL.Query().Get(tokenQueryParam)); token != "" {
		return token
	}
	if header := strings.TrimSpace(r.Header.Get("Authorization")); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			if token = strings.TrimSpace(token); token != "" {
				return token
			}
		}
	}
	cookie, err := r.Cookie(tokenCookieName)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(cookie.Value)
}

func handleWSConn(conn *websocket.Conn, cfg features.Config, ledger storage.SessionStore, tracer trace.Tracer) {
	defer func() {
		_ = conn.Close()
	}()
	conn.MaxPayloadBytes = maxFramePayloadBytes

	ctx := context.Background()
	userID := ""
	if request := conn.Request(); request != nil {
		ctx = request.Context()
		userID = requestctx.UserID(ctx)
	}

	sessionID, err := id.NewID()
	if err != nil {
		log.Printf("motion: session id: %v", err)
		return
	}
	session := newMotionSession(sessionID, userID, cfg, time.Now().UTC())

	ctx, span := tracer.Start(ctx, "motion.session", trace.WithAttributes(
		attribute.String("motion.session_id", sessionID),
	))
	log.Printf("motion: session opened id=%s user=%q", sessionID, userID)

	reason, cause := session.serve(conn)
	record := session.record(reason, time.Now().UTC())

	span.SetAttributes(
		attribute.Int64("motion.frames", record.Frames),
		attribute.Int64("motion.empty_frames", record.EmptyFrames),
		attribute.String("motion.close_reason", string(record.CloseReason)),
	)
	if cause != nil {
		span.RecordError(cause)
		span.SetStatus(codes.Error, string(apperrors.CodeOf(cause)))
		log.Printf("motion: session closed id=%s reason=%s frames=%d err=%v", sessionID, reason, record.Frames, cause)
	} else {
		log.Printf("motion: session closed id=%s reason=%s frames=%d", sessionID, reason, record.Frames)
	}
	span.End()

	if ledger == nil {
		return
	}
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeouts.LedgerWrite)
	defer cancel()
	if err := ledger.RecordSession(writeCtx, record); err != nil {
		log.Printf("motion: record session id=%s: %v", sessionID, err)
	}
}

// serve runs the receive, extract, send loop until the peer leaves or a
// fault ends the stream. Frames are handled strictly one at a time.
func (s *motionSession) serve(conn *websocket.Conn) (storage.CloseReason, error) {
	for {
		var payload []byte
		if err := frameCodec.Receive(conn, &payload); err != nil {
			if errors.Is(err, io.EOF) {
				return storage.ClosePeer, nil
			}
			if errors.Is(err, errBinaryFrame) || errors.Is(err, websocket.ErrFrameTooLarge) {
				s.decodeFaults++
				return storage.CloseDecode, apperrors.Wrap(apperrors.CodeDecodeFault, "receive frame", err)
			}
			return storage.CloseTransport, apperrors.Wrap(apperrors.CodeTransportFault, "receive frame", err)
		}

		frame, err := pose.Decode(payload)
		if err != nil {
			s.decodeFaults++
			return storage.CloseDecode, apperrors.Wrap(apperrors.CodeDecodeFault, "decode frame", err)
		}

		vector := s.process(frame)
		if err := frameCodec.Send(conn, vector); err != nil {
			return storage.CloseTransport, apperrors.Wrap(apperrors.CodeTransportFault, "send features", err)
		}
	}
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, err *apperrors.Error) {
	writeJSON(w, err.Code.HTTPStatus(), errorEnvelope{
		Error: errorBody{Code: string(err.Code), Message: err.Message},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("motion: write response: %v", err)
	}
}
