package gateway

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/basket/testforge/internal/persistence"
	"github.com/basket/testforge/internal/schema"
)

type errorBody struct {
	Error   string              `json:"error"`
	Message string              `json:"message,omitempty"`
	Details []schema.FieldError `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, title, message string) {
	writeJSON(w, status, errorBody{Error: title, Message: message})
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, http.StatusMethodNotAllowed, "Method not allowed", "")
}

func notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "Not found", "Test generation not found")
}

// handleGenerate validates the requirement, calls the generator and persists
// the result. Nothing is stored when generation fails.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	ctx := r.Context()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "Request too large", err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}

	req, err := schema.ValidateGenerateRequest(body)
	if err != nil {
		var vErr *schema.ValidationError
		if errors.As(err, &vErr) {
			s.logger.InfoContext(ctx, "generate request rejected", "issues", len(vErr.Issues), "reason", vErr.Error())
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "Invalid request", Details: vErr.Issues})
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}

	result, err := s.cfg.Generator.Generate(ctx, req.Requirement)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to generate test cases", err.Error())
		return
	}

	saved, err := s.cfg.Store.CreateTestGeneration(ctx, schema.NewTestGeneration{
		Requirement:     req.Requirement,
		ManualTestCases: result.ManualTestCases,
		CypressScript:   result.CypressScript,
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "persist test generation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to generate test cases", err.Error())
		return
	}

	s.logger.InfoContext(ctx, "test generation stored",
		"record_id", saved.ID,
		"test_cases", len(saved.ManualTestCases),
		"requirement", schema.Preview(saved.Requirement, 60),
	)
	writeJSON(w, http.StatusOK, schema.ToResponse(*saved))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	items, err := s.cfg.Store.ListTestGenerations(r.Context())
	if err != nil {
		s.logger.ErrorContext(r.Context(), "list history failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch history", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, schema.ToResponses(items))
}

func (s *Server) handleHistoryByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/history/")
	if id == "" || strings.Contains(id, "/") {
		notFound(w)
		return
	}

	switch r.Method {
	case http.MethodGet:
		item, err := s.cfg.Store.GetTestGeneration(r.Context(), id)
		if errors.Is(err, persistence.ErrNotFound) {
			notFound(w)
			return
		}
		if err != nil {
			s.logger.ErrorContext(r.Context(), "get history item failed", "record_id", id, "error", err)
			writeError(w, http.StatusInternalServerError, "Failed to fetch test generation", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, schema.ToResponse(*item))

	case http.MethodDelete:
		ok, err := s.cfg.Store.DeleteTestGeneration(r.Context(), id)
		if err != nil {
			s.logger.ErrorContext(r.Context(), "delete history item failed", "record_id", id, "error", err)
			writeError(w, http.StatusInternalServerError, "Failed to delete test generation", err.Error())
			return
		}
		if !ok {
			notFound(w)
			return
		}
		s.logger.InfoContext(r.Context(), "test generation deleted", "record_id", id)
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})

	default:
		methodNotAllowed(w, http.MethodGet, http.MethodDelete)
	}
}

func (s *Server) handleAPINotFound(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusNotFound, "Not found", "Unknown API route")
}
