package server

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/louisbranch/cuerposonoro/internal/platform/errors"
	"github.com/louisbranch/cuerposonoro/internal/platform/pagination"
	"github.com/louisbranch/cuerposonoro/internal/platform/requestctx"
	"github.com/louisbranch/cuerposonoro/internal/services/motion/storage"
	"github.com/louisbranch/cuerposonoro/internal/services/motion/storage/filter"
)

var sessionPageSize = pagination.PageSizeConfig{Default: 50, Max: 200}

type sessionJSON struct {
	ID           string `json:"id"`
	UserID       string `json:"user_id,omitempty"`
	StartedAt    string `json:"started_at"`
	EndedAt      string `json:"ended_at"`
	Frames       int64  `json:"frames"`
	EmptyFrames  int64  `json:"empty_frames"`
	DecodeFaults int64  `json:"decode_faults"`
	CloseReason  string `json:"close_reason"`
}

type sessionListJSON struct {
	Sessions      []sessionJSON `json:"sessions"`
	NextPageToken string        `json:"next_page_token"`
}

func toSessionJSON(record storage.SessionRecord) sessionJSON {
	return sessionJSON{
		ID:           record.ID,
		UserID:       record.UserID,
		StartedAt:    record.StartedAt.UTC().Format(time.RFC3339Nano),
		EndedAt:      record.EndedAt.UTC().Format(time.RFC3339Nano),
		Frames:       record.Frames,
		EmptyFrames:  record.EmptyFrames,
		DecodeFaults: record.DecodeFaults,
		CloseReason:  string(record.CloseReason),
	}
}

// ledgerHandlers serves the read side of the session ledger.
type ledgerHandlers struct {
	store storage.SessionStore
}

func (h ledgerHandlers) list(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, apperrors.New(apperrors.CodeUnavailable, "session ledger is not configured"))
		return
	}
	query := r.URL.Query()

	requested := 0
	if raw := strings.TrimSpace(query.Get("page_size")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, apperrors.New(apperrors.CodeInvalidArgument, "page_size must be an integer"))
			return
		}
		requested = value
	}
	offset, err := pagination.DecodeOffset(query.Get("page_token"))
	if err != nil {
		writeError(w, apperrors.Wrap(apperrors.CodeInvalidArgument, "invalid page_token", err))
		return
	}
	cond, err := filter.ParseSessionFilter(query.Get("filter"))
	if err != nil {
		writeError(w, apperrors.New(apperrors.CodeInvalidArgument, "invalid filter: "+err.Error()))
		return
	}
	cond = scopeToUser(cond, requestctx.UserID(r.Context()))

	page, err := h.store.ListSessions(r.Context(), storage.ListOptions{
		PageSize:  pagination.ClampPageSize(requested, sessionPageSize),
		Offset:    offset,
		Condition: cond,
	})
	if err != nil {
		log.Printf("motion: list sessions: %v", err)
		writeError(w, apperrors.Wrap(apperrors.CodeUnknown, "list sessions failed", err))
		return
	}

	response := sessionListJSON{
		Sessions:      make([]sessionJSON, 0, len(page.Sessions)),
		NextPageToken: pagination.EncodeOffset(page.NextOffset),
	}
	for _, record := range page.Sessions {
		response.Sessions = append(response.Sessions, toSessionJSON(record))
	}
	writeJSON(w, http.StatusOK, response)
}

func (h ledgerHandlers) get(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, apperrors.New(apperrors.CodeUnavailable, "session ledger is not configured"))
		return
	}
	sessionID := strings.TrimSpace(r.PathValue("id"))
	if sessionID == "" {
		writeError(w, apperrors.New(apperrors.CodeInvalidArgument, "session id is required"))
		return
	}
	record, err := h.store.GetSession(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, apperrors.New(apperrors.CodeNotFound, "session not found"))
			return
		}
		log.Printf("motion: get session id=%s: %v", sessionID, err)
		writeError(w, apperrors.Wrap(apperrors.CodeUnknown, "get session failed", err))
		return
	}
	// Another caller's session reads as missing.
	if userID := requestctx.UserID(r.Context()); userID != "" && record.UserID != userID {
		writeError(w, apperrors.New(apperrors.CodeNotFound, "session not found"))
		return
	}
	writeJSON(w, http.StatusOK, toSessionJSON(record))
}

// scopeToUser restricts cond to sessions owned by userID. An empty userID
// leaves cond unchanged.
func scopeToUser(cond storage.Condition, userID string) storage.Condition {
	if userID == "" {
		return cond
	}
	if strings.TrimSpace(cond.Clause) == "" {
		return storage.Condition{Clause: "user_id = ?", Params: []any{userID}}
	}
	params := make([]any, 0, len(cond.Params)+1)
	params = append(params, userID)
	params = append(params, cond.Params...)
	return storage.Condition{
		Clause: "(user_id = ? AND " + cond.Clause + ")",
		Params: params,
	}
}
