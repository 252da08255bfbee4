package web

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/hpungsan/tcap/internal/capsule"
	"github.com/hpungsan/tcap/internal/errors"
	"github.com/hpungsan/tcap/internal/ops"
)

// Handlers contains HTTP route handlers for the capsule API.
type Handlers struct {
	deps     ops.Deps
	renderer *Renderer
}

// SnapshotRequest is the body of POST /capsules.
type SnapshotRequest struct {
	OwnerID          string `json:"owner_id"`
	Title            string `json:"title"`
	Description      string `json:"description"`
	IncludeSettings  bool   `json:"include_settings"`
	IncludeAnalytics bool   `json:"include_analytics"`
}

// RestoreRequest is the body of POST /capsules/{id}/restore.
type RestoreRequest struct {
	OwnerID string `json:"owner_id"`
	Policy  string `json:"policy"`
}

// DiffResponse is the JSON body of GET /diff.
type DiffResponse struct {
	*ops.DiffResult
	Summary string `json:"summary"`
}

// HandleList handles GET /capsules?owner=&trigger=: list an owner's capsules.
func (h *Handlers) HandleList(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	trigger := r.URL.Query().Get("trigger")

	result, err := ops.ListCapsules(r.Context(), h.deps, ops.ListInput{OwnerID: owner, Trigger: trigger})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if wantsHTML(r) {
		h.renderer.renderPage(w, http.StatusOK, "list", ListPageData{
			PageData: h.renderer.page("Capsules"),
			Owner:    owner,
			Trigger:  trigger,
			Capsules: result.Capsules,
		})
		return
	}
	renderJSON(w, http.StatusOK, result)
}

// HandleSnapshot handles POST /capsules: take a manual capsule.
func (h *Handlers) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	var body SnapshotRequest
	if err := decodeBody(w, r, &body); err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	result, err := ops.Snapshot(r.Context(), h.deps, ops.SnapshotInput{
		OwnerID:          body.OwnerID,
		Title:            body.Title,
		Description:      body.Description,
		IncludeSettings:  body.IncludeSettings,
		IncludeAnalytics: body.IncludeAnalytics,
		Trigger:          string(capsule.TriggerManual),
	})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusCreated, result)
}

// HandleDetail handles GET /capsules/{id}: show one capsule.
func (h *Handlers) HandleDetail(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.renderer.renderError(w, r, errors.NewValidation("capsule ID is required"))
		return
	}

	detail, err := ops.GetCapsule(r.Context(), h.deps, ops.GetInput{ID: id})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if wantsHTML(r) {
		h.renderer.renderPage(w, http.StatusOK, "detail", DetailPageData{
			PageData: h.renderer.page(detail.Title),
			Capsule:  detail,
		})
		return
	}
	renderJSON(w, http.StatusOK, detail)
}

// HandleDelete handles DELETE /capsules/{id}: permanently delete a capsule.
func (h *Handlers) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.renderer.renderError(w, r, errors.NewValidation("capsule ID is required"))
		return
	}

	result, err := ops.DeleteCapsule(r.Context(), h.deps, ops.DeleteInput{ID: id})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, result)
}

// HandleRestore handles POST /capsules/{id}/restore: restore onto the live collection.
func (h *Handlers) HandleRestore(w http.ResponseWriter, r *http.Request) {
	var body RestoreRequest
	if err := decodeBody(w, r, &body); err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	result, err := ops.Restore(r.Context(), h.deps, ops.RestoreInput{
		CapsuleID: r.PathValue("id"),
		OwnerID:   body.OwnerID,
		Policy:    body.Policy,
	})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, result)
}

// HandleDiff handles GET /diff?a=&b=[&format=html|markdown]: compare two capsules.
func (h *Handlers) HandleDiff(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	result, err := ops.Diff(r.Context(), h.deps, ops.DiffInput{
		CapsuleAID: q.Get("a"),
		CapsuleBID: q.Get("b"),
	})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	summary := ops.SummarizeDiff(result)

	switch {
	case q.Get("format") == "markdown":
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(summary))
	case wantsHTML(r):
		h.renderer.renderPage(w, http.StatusOK, "diff", DiffPageData{
			PageData:    h.renderer.page("Diff"),
			Diff:        result,
			SummaryHTML: renderMarkdown(summary),
		})
	default:
		renderJSON(w, http.StatusOK, DiffResponse{DiffResult: result, Summary: summary})
	}
}

// decodeBody reads a JSON request body into v. An empty body leaves v unchanged.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/json") {
		return errors.NewValidation("content type must be application/json")
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.NewValidation("invalid request body: " + err.Error())
	}
	return nil
}
