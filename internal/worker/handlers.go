package worker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/promptshelf/internal/privacy"
	"github.com/thebtf/promptshelf/internal/rewrite"
	"github.com/thebtf/promptshelf/internal/search"
	"github.com/thebtf/promptshelf/internal/templates"
	"github.com/thebtf/promptshelf/internal/transfer"
	"github.com/thebtf/promptshelf/pkg/models"
)

// maxImportBytes bounds an import upload.
const maxImportBytes = 1 << 20

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "starting"
	if s.ready.Load() {
		status = "ready"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  status,
		"version": s.version,
		"backend": s.config.Backend,
		"uptime":  s.now().Sub(s.startTime).Round(time.Second).String(),
		"clients": s.sseBroadcaster.ClientCount(),
	})
}

func (s *Service) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

func (s *Service) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.ready.Load() {
		writeError(w, http.StatusServiceUnavailable, "service is starting")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// parseSearchParams reads the list filters from the query string.
func parseSearchParams(r *http.Request) search.Params {
	q := r.URL.Query()
	p := search.Params{
		Query: strings.TrimSpace(q.Get("q")),
		Sort:  search.ParseSort(q.Get("sort")),
	}
	if c, ok := models.ParseCategory(q.Get("category")); ok {
		p.Category = c
	}
	p.FavoritesOnly, _ = strconv.ParseBool(q.Get("favorites"))
	if l, err := strconv.Atoi(q.Get("limit")); err == nil && l > 0 {
		p.Limit = l
	}
	return p
}

func (s *Service) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	all, err := s.store.GetTemplates(r.Context())
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	found := search.Search(all, parseSearchParams(r))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"templates": found,
		"total":     len(all),
	})
}

func (s *Service) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var in templates.Input
	if err := decodeBody(r, &in); err != nil {
		writeFailure(w, r, err)
		return
	}
	if err := templates.Validate(in); err != nil {
		writeFailure(w, r, err)
		return
	}

	t := templates.New(in, s.now())
	if err := s.store.AddTemplate(r.Context(), t); err != nil {
		writeFailure(w, r, err)
		return
	}

	log.Info().Str("id", t.ID).Str("category", string(t.Category)).Msg("Template created")
	writeJSON(w, http.StatusCreated, map[string]interface{}{"success": true, "template": t})
}

func (s *Service) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	t, err := s.store.GetTemplate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "template": t})
}

func (s *Service) handleUpdateTemplate(w http.ResponseWriter, r *http.Request) {
	var in templates.Input
	if err := decodeBody(r, &in); err != nil {
		writeFailure(w, r, err)
		return
	}
	if err := templates.Validate(in); err != nil {
		writeFailure(w, r, err)
		return
	}

	existing, err := s.store.GetTemplate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	updated := templates.ApplyEdit(existing, in, s.now())
	if err := s.store.UpdateTemplate(r.Context(), updated); err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "template": updated})
}

func (s *Service) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.store.DeleteTemplate(r.Context(), id); err != nil {
		writeFailure(w, r, err)
		return
	}
	log.Info().Str("id", id).Msg("Template deleted")
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Service) handleIncrementUsage(w http.ResponseWriter, r *http.Request) {
	s.mutateAndRespond(w, r, s.store.IncrementUsage)
}

func (s *Service) handleToggleFavorite(w http.ResponseWriter, r *http.Request) {
	s.mutateAndRespond(w, r, s.store.ToggleFavorite)
}

// mutateAndRespond applies a store mutation and returns the resulting
// template. The mutation itself ignores absent ids; the response reports 404.
func (s *Service) mutateAndRespond(w http.ResponseWriter, r *http.Request, mutate func(ctx context.Context, id string) error) {
	id := chi.URLParam(r, "id")
	if err := mutate(r.Context(), id); err != nil {
		writeFailure(w, r, err)
		return
	}
	t, err := s.store.GetTemplate(r.Context(), id)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "template": t})
}

// missingValuesError reports required variables left without a value.
type missingValuesError struct {
	names []string
}

func (e *missingValuesError) Error() string {
	return "missing values for required variables: " + strings.Join(e.names, ", ")
}

type renderRequest struct {
	Values map[string]string `json:"values"`
	// CountUsage bumps the usage count, as applying a template does.
	CountUsage *bool `json:"countUsage,omitempty"`
}

func (s *Service) handleRenderTemplate(w http.ResponseWriter, r *http.Request) {
	var req renderRequest
	if err := decodeBody(r, &req); err != nil {
		writeFailure(w, r, err)
		return
	}

	id := chi.URLParam(r, "id")
	t, err := s.store.GetTemplate(r.Context(), id)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	if missing := templates.MissingRequired(t, req.Values); len(missing) > 0 {
		writeFailure(w, r, &missingValuesError{names: missing})
		return
	}

	content := templates.Render(t, req.Values)
	if req.CountUsage == nil || *req.CountUsage {
		if err := s.store.IncrementUsage(r.Context(), id); err != nil {
			writeFailure(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "content": content})
}

func (s *Service) handleOptimize(w http.ResponseWriter, r *http.Request) {
	var req rewrite.Request
	if err := decodeBody(r, &req); err != nil {
		writeFailure(w, r, err)
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	if req.Category != "" && !req.Category.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown category %q", req.Category))
		return
	}

	result := s.optimizer.Optimize(r.Context(), req)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"result":  result,
	})
}

// settingsView is the settings record as returned to clients: the API key
// only ever leaves the worker masked.
type settingsView struct {
	models.Settings
	HasAPIKey bool `json:"hasApiKey"`
}

func viewOf(st models.Settings) settingsView {
	v := settingsView{Settings: st, HasAPIKey: st.GeminiAPIKey != ""}
	if v.HasAPIKey {
		v.GeminiAPIKey = privacy.MaskKey(st.GeminiAPIKey)
	}
	return v
}

func (s *Service) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	st, err := s.settings.GetSettings(r.Context())
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "settings": viewOf(st)})
}

func (s *Service) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var patch models.SettingsPatch
	if err := decodeBody(r, &patch); err != nil {
		writeFailure(w, r, err)
		return
	}
	if err := patch.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	st, err := s.settings.UpdateSettings(r.Context(), patch)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "settings": viewOf(st)})
}

func (s *Service) handleGetMetadata(w http.ResponseWriter, r *http.Request) {
	meta, err := s.store.GetMetadata(r.Context())
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "metadata": meta})
}

func (s *Service) handleExport(w http.ResponseWriter, r *http.Request) {
	format, err := transfer.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	all, err := s.store.GetTemplates(r.Context())
	if err != nil {
		writeFailure(w, r, err)
		return
	}

	var settings *models.Settings
	if include, _ := strconv.ParseBool(r.URL.Query().Get("settings")); include {
		st, err := s.settings.GetSettings(r.Context())
		if err != nil {
			writeFailure(w, r, err)
			return
		}
		settings = &st
	}

	now := s.now()
	var buf bytes.Buffer
	if err := transfer.Encode(&buf, transfer.BuildExport(all, settings, now), format); err != nil {
		writeFailure(w, r, err)
		return
	}

	if err := s.store.UpdateLastBackup(r.Context()); err != nil {
		log.Warn().Err(err).Msg("Failed to record backup time")
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", format.Filename(now)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (s *Service) handleImport(w http.ResponseWriter, r *http.Request) {
	var format transfer.Format
	if f := r.URL.Query().Get("format"); f != "" {
		parsed, err := transfer.ParseFormat(f)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		format = parsed
	} else if strings.Contains(r.Header.Get("Content-Type"), "yaml") {
		format = transfer.FormatYAML
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxImportBytes+1))
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	if len(raw) > maxImportBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "import file too large")
		return
	}

	incoming, err := transfer.Decode(raw, format)
	if err != nil {
		writeFailure(w, r, err)
		return
	}

	existing, err := s.store.GetTemplates(r.Context())
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	merged, report := transfer.Merge(existing, incoming, s.now())
	if report.Imported > 0 {
		if err := s.store.SaveTemplates(r.Context(), merged); err != nil {
			writeFailure(w, r, err)
			return
		}
	}

	log.Info().
		Int("imported", report.Imported).
		Int("skipped", report.Skipped).
		Int("invalid", report.Invalid).
		Msg("Templates imported")
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "report": report})
}

func (s *Service) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.store.ClearAll(r.Context()); err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
