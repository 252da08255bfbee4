package mcp

import (
	"context"
	"encoding/json"
	stderrors "errors"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/tcap/internal/capsule"
	"github.com/hpungsan/tcap/internal/config"
	"github.com/hpungsan/tcap/internal/errors"
	"github.com/hpungsan/tcap/internal/ops"
	"github.com/hpungsan/tcap/internal/retention"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	deps  ops.Deps
	sched *retention.Scheduler
	cfg   *config.Config
}

// NewHandlers creates a new Handlers instance. sched may be nil, in which
// case retention_run reports an error.
func NewHandlers(deps ops.Deps, sched *retention.Scheduler, cfg *config.Config) *Handlers {
	if deps.Config == nil {
		deps.Config = cfg
	}
	return &Handlers{deps: deps, sched: sched, cfg: cfg}
}

// Request types for each tool

// SnapshotRequest represents the arguments for capsule_snapshot.
type SnapshotRequest struct {
	OwnerID          string `json:"owner_id"`
	Title            string `json:"title"`
	Description      string `json:"description,omitempty"`
	IncludeSettings  bool   `json:"include_settings,omitempty"`
	IncludeAnalytics bool   `json:"include_analytics,omitempty"`
}

// GetRequest represents the arguments for capsule_get and capsule_delete.
type GetRequest struct {
	ID string `json:"id"`
}

// ListRequest represents the arguments for capsule_list.
type ListRequest struct {
	OwnerID string `json:"owner_id"`
	Trigger string `json:"trigger,omitempty"`
}

// DiffRequest represents the arguments for capsule_diff.
type DiffRequest struct {
	CapsuleAID string `json:"capsule_a_id"`
	CapsuleBID string `json:"capsule_b_id"`
	Summary    bool   `json:"summary,omitempty"`
}

// DiffResponse is a diff with its optional Markdown summary.
type DiffResponse struct {
	*ops.DiffResult
	Summary string `json:"summary,omitempty"`
}

// RestoreRequest represents the arguments for capsule_restore.
type RestoreRequest struct {
	CapsuleID string `json:"capsule_id"`
	OwnerID   string `json:"owner_id"`
	Policy    string `json:"policy,omitempty"`
}

// ExportRequest represents the arguments for capsule_export.
type ExportRequest struct {
	CapsuleID string `json:"capsule_id"`
	Path      string `json:"path,omitempty"`
}

// RetentionRunRequest represents the arguments for retention_run.
type RetentionRunRequest struct {
	OwnerID string `json:"owner_id,omitempty"`
}

// RetentionRunResponse lists the cycles a retention run performed.
type RetentionRunResponse struct {
	Results []retention.Result `json:"results"`
}

// HandleSnapshot handles the capsule_snapshot tool call.
func (h *Handlers) HandleSnapshot(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SnapshotRequest](req)
	if err != nil {
		return errorResult(errors.NewValidation(err.Error())), nil
	}

	result, err := ops.Snapshot(ctx, h.deps, ops.SnapshotInput{
		OwnerID:          input.OwnerID,
		Title:            input.Title,
		Description:      input.Description,
		IncludeSettings:  input.IncludeSettings,
		IncludeAnalytics: input.IncludeAnalytics,
		Trigger:          string(capsule.TriggerManual),
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleGet handles the capsule_get tool call.
func (h *Handlers) HandleGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[GetRequest](req)
	if err != nil {
		return errorResult(errors.NewValidation(err.Error())), nil
	}

	result, err := ops.GetCapsule(ctx, h.deps, ops.GetInput{ID: input.ID})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleList handles the capsule_list tool call.
func (h *Handlers) HandleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ListRequest](req)
	if err != nil {
		return errorResult(errors.NewValidation(err.Error())), nil
	}

	result, err := ops.ListCapsules(ctx, h.deps, ops.ListInput{
		OwnerID: input.OwnerID,
		Trigger: input.Trigger,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleDiff handles the capsule_diff tool call.
func (h *Handlers) HandleDiff(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[DiffRequest](req)
	if err != nil {
		return errorResult(errors.NewValidation(err.Error())), nil
	}

	result, err := ops.Diff(ctx, h.deps, ops.DiffInput{
		CapsuleAID: input.CapsuleAID,
		CapsuleBID: input.CapsuleBID,
	})
	if err != nil {
		return errorResult(err), nil
	}

	resp := DiffResponse{DiffResult: result}
	if input.Summary {
		resp.Summary = ops.SummarizeDiff(result)
	}
	return successResult(resp)
}

// HandleRestore handles the capsule_restore tool call.
func (h *Handlers) HandleRestore(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[RestoreRequest](req)
	if err != nil {
		return errorResult(errors.NewValidation(err.Error())), nil
	}

	result, err := ops.Restore(ctx, h.deps, ops.RestoreInput{
		CapsuleID: input.CapsuleID,
		OwnerID:   input.OwnerID,
		Policy:    input.Policy,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleDelete handles the capsule_delete tool call.
func (h *Handlers) HandleDelete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[GetRequest](req)
	if err != nil {
		return errorResult(errors.NewValidation(err.Error())), nil
	}

	result, err := ops.DeleteCapsule(ctx, h.deps, ops.DeleteInput{ID: input.ID})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleExport handles the capsule_export tool call.
func (h *Handlers) HandleExport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ExportRequest](req)
	if err != nil {
		return errorResult(errors.NewValidation(err.Error())), nil
	}

	result, err := ops.Export(ctx, h.deps, ops.ExportInput{
		CapsuleID: input.CapsuleID,
		Path:      input.Path,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleRetentionRun handles the retention_run tool call.
func (h *Handlers) HandleRetentionRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[RetentionRunRequest](req)
	if err != nil {
		return errorResult(errors.NewValidation(err.Error())), nil
	}
	if h.sched == nil {
		return errorResult(errors.NewInternal(stderrors.New("retention scheduler not configured"))), nil
	}

	now := h.sched.Now()
	if input.OwnerID == "" {
		return successResult(RetentionRunResponse{Results: h.sched.Tick(ctx, now)})
	}

	res, err := h.sched.RunOwner(ctx, input.OwnerID, now)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(RetentionRunResponse{Results: []retention.Result{*res}})
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
// Internal and storage error details are not exposed.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	if tErr, ok := errors.As(err); ok {
		message := tErr.Message
		if err != error(tErr) {
			// Keep context added by wrapping.
			message = err.Error()
		}
		errorObj := map[string]any{
			"code":    tErr.Code,
			"message": message,
			"status":  tErr.Status,
		}
		if tErr.Code != errors.ErrInternal && tErr.Code != errors.ErrStorage && tErr.Details != nil {
			errorObj["details"] = tErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    "INTERNAL",
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
