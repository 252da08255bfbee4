package mcp

import "github.com/mark3labs/mcp-go/mcp"

var snapshotToolDef = mcp.NewTool("capsule_snapshot",
	mcp.WithDescription("Capture an owner's live bookmark collection into a new immutable capsule."),
	mcp.WithString("owner_id", mcp.Required(), mcp.Description("Owner whose collection is captured")),
	mcp.WithString("title", mcp.Required(), mcp.Description("Capsule title (max 200 chars)")),
	mcp.WithString("description", mcp.Description("Optional description")),
	mcp.WithBoolean("include_settings", mcp.Description("Also capture the owner's settings")),
	mcp.WithBoolean("include_analytics", mcp.Description("Compute visit analytics for the capsule")),
)

var getToolDef = mcp.NewTool("capsule_get",
	mcp.WithDescription("Fetch one capsule with its frozen items, categories, tags, and settings."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Capsule id")),
)

var listToolDef = mcp.NewTool("capsule_list",
	mcp.WithDescription("List an owner's capsules, oldest first. Items are not included."),
	mcp.WithString("owner_id", mcp.Required(), mcp.Description("Owner id")),
	mcp.WithString("trigger", mcp.Description("Filter by trigger"), mcp.Enum("manual", "scheduled")),
)

var diffToolDef = mcp.NewTool("capsule_diff",
	mcp.WithDescription("Compare two capsules of the same owner. A is the older side."),
	mcp.WithString("capsule_a_id", mcp.Required(), mcp.Description("Capsule A id")),
	mcp.WithString("capsule_b_id", mcp.Required(), mcp.Description("Capsule B id")),
	mcp.WithBoolean("summary", mcp.Description("Include a Markdown summary of the diff")),
)

var restoreToolDef = mcp.NewTool("capsule_restore",
	mcp.WithDescription("Restore a capsule into the owner's live collection. A safety capsule of the current state is taken first."),
	mcp.WithString("capsule_id", mcp.Required(), mcp.Description("Capsule to restore")),
	mcp.WithString("owner_id", mcp.Required(), mcp.Description("Owner of the live collection")),
	mcp.WithString("policy", mcp.Description("Conflict policy (default replace_all)"),
		mcp.Enum("replace_all", "merge_keep_newer", "merge_keep_capsule")),
)

var deleteToolDef = mcp.NewTool("capsule_delete",
	mcp.WithDescription("Permanently delete a capsule."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Capsule id")),
)

var exportToolDef = mcp.NewTool("capsule_export",
	mcp.WithDescription("Export a capsule to a JSONL file: a header line, then one line per item."),
	mcp.WithString("capsule_id", mcp.Required(), mcp.Description("Capsule id")),
	mcp.WithString("path", mcp.Description("Destination .jsonl path (default ~/.tcap/exports/<title>-<timestamp>.jsonl)")),
)

var retentionRunToolDef = mcp.NewTool("retention_run",
	mcp.WithDescription("Run a retention cycle now: take due scheduled captures and prune old scheduled capsules."),
	mcp.WithString("owner_id", mcp.Description("Run only this owner (default: every owner with a policy)")),
)
