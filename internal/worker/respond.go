package worker

import (
	"errors"
	"io"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/promptshelf/internal/store"
	"github.com/thebtf/promptshelf/internal/templates"
	"github.com/thebtf/promptshelf/internal/transfer"
)

// errorResponse is the failure envelope of every endpoint.
type errorResponse struct {
	Success  bool     `json:"success"`
	Error    string   `json:"error"`
	Problems []string `json:"problems,omitempty"`
}

var errBadJSON = errors.New("request body is not valid JSON")

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeFailure maps err onto the failure envelope and an HTTP status.
func writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	resp := errorResponse{Error: err.Error()}

	var verr *templates.ValidationError
	if errors.As(err, &verr) {
		resp.Problems = verr.Problems
	}

	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
	}
	writeJSON(w, status, resp)
}

func statusFor(err error) int {
	var (
		verr    *templates.ValidationError
		maxErr  *http.MaxBytesError
		missing *missingValuesError
	)
	switch {
	case errors.As(err, &verr),
		errors.As(err, &missing),
		errors.Is(err, store.ErrInvalidAPIKey),
		errors.Is(err, transfer.ErrInvalidFormat),
		errors.Is(err, errBadJSON):
		return http.StatusBadRequest
	case errors.As(err, &maxErr):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody decodes the JSON request body into v. An empty body leaves v
// untouched.
func decodeBody(r *http.Request, v interface{}) error {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errBadJSON
	}
	return nil
}
