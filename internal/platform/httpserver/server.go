package httpserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	pollengine "quorum/contexts/collaboration/poll-engine"
	polldomainerrors "quorum/contexts/collaboration/poll-engine/domain/errors"
	pollhttp "quorum/contexts/collaboration/poll-engine/transport/http"

	httpSwagger "github.com/swaggo/http-swagger"
	_ "quorum/internal/platform/httpserver/docs"
)

type Server struct {
	mux    *http.ServeMux
	logger *slog.Logger
	addr   string
	polls  pollengine.Module
}

func New(polls pollengine.Module, logger *slog.Logger, addr string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if addr == "" {
		addr = ":8080"
	}

	s := &Server{
		mux:    http.NewServeMux(),
		logger: logger,
		addr:   addr,
		polls:  polls,
	}
	s.registerRoutes()
	return s
}

func (s *Server) Start() error {
	s.logger.Info("http server starting",
		"event", "http_server_starting",
		"module", "internal/platform/httpserver",
		"layer", "platform",
		"addr", s.addr,
	)
	return http.ListenAndServe(s.addr, s.mux)
}

func (s *Server) registerRoutes() {
	s.mux.Handle("/swagger/", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	s.mux.HandleFunc("POST /v1/polls", s.handleCreatePoll)
	s.mux.HandleFunc("GET /v1/polls/{poll_id}", s.handleGetPoll)
	s.mux.HandleFunc("PUT /v1/polls/{poll_id}/options", s.handleSetOptions)
	s.mux.HandleFunc("POST /v1/polls/{poll_id}/stances", s.handleRecordStance)
	s.mux.HandleFunc("POST /v1/polls/{poll_id}/close", s.handleClosePoll)
	s.mux.HandleFunc("GET /v1/polls/{poll_id}/results", s.handlePollResults)
	s.mux.HandleFunc("GET /v1/polls/{poll_id}/choices", s.handleGroupedChoices)
	s.mux.HandleFunc("GET /v1/polls/{poll_id}/undecided", s.handleUndecided)
}

func (s *Server) handleCreatePoll(w http.ResponseWriter, r *http.Request) {
	authorID := r.Header.Get("X-User-Id")
	if authorID == "" {
		writePollError(w, http.StatusUnauthorized, "missing_user", "X-User-Id header is required")
		return
	}

	var req pollhttp.CreatePollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writePollError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}

	resp, err := s.polls.Handler.CreatePollHandler(
		r.Context(),
		authorID,
		r.Header.Get("Idempotency-Key"),
		req,
	)
	if err != nil {
		writePollDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleGetPoll(w http.ResponseWriter, r *http.Request) {
	resp, err := s.polls.Handler.GetPollHandler(r.Context(), r.PathValue("poll_id"))
	if err != nil {
		writePollDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSetOptions(w http.ResponseWriter, r *http.Request) {
	actorID := r.Header.Get("X-User-Id")
	if actorID == "" {
		writePollError(w, http.StatusUnauthorized, "missing_user", "X-User-Id header is required")
		return
	}

	var req pollhttp.SetOptionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writePollError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}

	resp, err := s.polls.Handler.SetOptionsHandler(
		r.Context(),
		r.PathValue("poll_id"),
		actorID,
		r.Header.Get("Idempotency-Key"),
		req,
	)
	if err != nil {
		writePollDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRecordStance(w http.ResponseWriter, r *http.Request) {
	participantID := r.Header.Get("X-User-Id")
	if participantID == "" {
		writePollError(w, http.StatusUnauthorized, "missing_user", "X-User-Id header is required")
		return
	}

	var req pollhttp.RecordStanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writePollError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}

	resp, err := s.polls.Handler.RecordStanceHandler(
		r.Context(),
		r.PathValue("poll_id"),
		participantID,
		r.Header.Get("Idempotency-Key"),
		req,
	)
	if err != nil {
		writePollDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleClosePoll(w http.ResponseWriter, r *http.Request) {
	actorID := r.Header.Get("X-User-Id")
	if actorID == "" {
		writePollError(w, http.StatusUnauthorized, "missing_user", "X-User-Id header is required")
		return
	}

	resp, err := s.polls.Handler.ClosePollHandler(
		r.Context(),
		r.PathValue("poll_id"),
		actorID,
		r.Header.Get("Idempotency-Key"),
	)
	if err != nil {
		writePollDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePollResults(w http.ResponseWriter, r *http.Request) {
	resp, err := s.polls.Handler.PollResultsHandler(r.Context(), r.PathValue("poll_id"))
	if err != nil {
		writePollDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGroupedChoices(w http.ResponseWriter, r *http.Request) {
	var since *time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writePollError(w, http.StatusBadRequest, "invalid_since", "since must be RFC3339")
			return
		}
		since = &parsed
	}

	resp, err := s.polls.Handler.GroupedChoicesHandler(r.Context(), r.PathValue("poll_id"), since)
	if err != nil {
		writePollDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUndecided(w http.ResponseWriter, r *http.Request) {
	resp, err := s.polls.Handler.UndecidedHandler(r.Context(), r.PathValue("poll_id"))
	if err != nil {
		writePollDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func writePollDomainError(w http.ResponseWriter, err error) {
	if validation, ok := polldomainerrors.AsValidation(err); ok {
		items := make([]pollhttp.FieldErrorItem, 0, len(validation))
		for _, fieldErr := range validation {
			items = append(items, pollhttp.FieldErrorItem{
				Field:   fieldErr.Field,
				Message: fieldErr.Message,
			})
		}
		writeJSON(w, http.StatusUnprocessableEntity, pollhttp.ValidationErrorResponse{
			Code:   "validation_failed",
			Errors: items,
		})
		return
	}

	switch {
	case errors.Is(err, polldomainerrors.ErrPollNotFound),
		errors.Is(err, polldomainerrors.ErrOptionNotFound),
		errors.Is(err, polldomainerrors.ErrStanceNotFound),
		errors.Is(err, polldomainerrors.ErrDiscussionNotFound),
		errors.Is(err, polldomainerrors.ErrGroupNotFound),
		errors.Is(err, polldomainerrors.ErrCommunityNotFound):
		writePollError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, polldomainerrors.ErrPollClosed):
		writePollError(w, http.StatusConflict, "poll_closed", err.Error())
	case errors.Is(err, polldomainerrors.ErrConflict),
		errors.Is(err, polldomainerrors.ErrIdempotencyConflict):
		writePollError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, polldomainerrors.ErrIdempotencyKeyRequired):
		writePollError(w, http.StatusBadRequest, "idempotency_key_required", err.Error())
	case errors.Is(err, polldomainerrors.ErrUnknownPollType),
		errors.Is(err, polldomainerrors.ErrSingleChoiceOnly):
		writePollError(w, http.StatusUnprocessableEntity, "invalid_poll", err.Error())
	case errors.Is(err, polldomainerrors.ErrInvalidPollInput),
		errors.Is(err, polldomainerrors.ErrInvalidStanceInput):
		writePollError(w, http.StatusBadRequest, "invalid_request", err.Error())
	default:
		writePollError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func writePollError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, pollhttp.ErrorResponse{
		Code:    code,
		Message: message,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
