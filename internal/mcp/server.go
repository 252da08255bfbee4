package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hpungsan/tcap/internal/config"
	"github.com/hpungsan/tcap/internal/ops"
	"github.com/hpungsan/tcap/internal/retention"
)

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"capsule_snapshot": {
		def:     snapshotToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSnapshot },
	},
	"capsule_get": {
		def:     getToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleGet },
	},
	"capsule_list": {
		def:     listToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleList },
	},
	"capsule_diff": {
		def:     diffToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleDiff },
	},
	"capsule_restore": {
		def:     restoreToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleRestore },
	},
	"capsule_delete": {
		def:     deleteToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleDelete },
	},
	"capsule_export": {
		def:     exportToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleExport },
	},
	"retention_run": {
		def:     retentionRunToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleRetentionRun },
	},
}

// AllToolNames returns a list of all valid tool names.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	return names
}

// ValidateDisabledTools returns a list of unknown tool names from the given list.
func ValidateDisabledTools(names []string) []string {
	unknown := make([]string, 0)
	for _, name := range names {
		if _, ok := toolRegistry[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// NewServer creates a new MCP server with the capsule tools registered.
// Tools listed in cfg.DisabledTools are excluded from registration.
func NewServer(deps ops.Deps, sched *retention.Scheduler, cfg *config.Config, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"tcap",
		version,
		server.WithToolCapabilities(true),
	)

	h := NewHandlers(deps, sched, cfg)

	disabled := make(map[string]bool, len(cfg.DisabledTools))
	for _, name := range cfg.DisabledTools {
		disabled[name] = true
	}

	for name, entry := range toolRegistry {
		if disabled[name] {
			continue
		}
		s.AddTool(entry.def, entry.handler(h))
	}

	return s
}

// Run starts the MCP server using stdio transport.
func Run(deps ops.Deps, sched *retention.Scheduler, cfg *config.Config, version string) error {
	s := NewServer(deps, sched, cfg, version)
	return server.ServeStdio(s)
}
