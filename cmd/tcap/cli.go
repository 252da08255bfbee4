package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/hpungsan/tcap/internal/bookmark"
	"github.com/hpungsan/tcap/internal/capsule"
	"github.com/hpungsan/tcap/internal/db"
	"github.com/hpungsan/tcap/internal/errors"
	"github.com/hpungsan/tcap/internal/ops"
	"github.com/hpungsan/tcap/internal/retention"
	"github.com/hpungsan/tcap/internal/web"
)

// maxImportBytes bounds `bookmark import` input.
const maxImportBytes = 10 << 20

// newCLIApp creates the CLI application with all commands.
// e may be nil when only help or version output is needed.
func newCLIApp(e *engine) *cli.App {
	app := &cli.App{
		Name:    "tcap",
		Usage:   "Time capsules for bookmark collections",
		Version: Version,
		Commands: []*cli.Command{
			ownerCmd(e),
			bookmarkCmd(e),
			categoryCmd(e),
			tagCmd(e),
			settingCmd(e),
			snapshotCmd(e),
			capsulesCmd(e),
			showCmd(e),
			diffCmd(e),
			restoreCmd(e),
			deleteCmd(e),
			exportCmd(e),
			policyCmd(e),
			scheduleCmd(e),
			serveCmd(e),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// ownerCmd creates the owner command group.
func ownerCmd(e *engine) *cli.Command {
	return &cli.Command{
		Name:  "owner",
		Usage: "Manage owners",
		Subcommands: []*cli.Command{
			{
				Name:      "add",
				Usage:     "Create an owner",
				ArgsUsage: "<id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Usage: "Display name (defaults to id)"},
				},
				Action: func(c *cli.Context) error {
					id, err := requireArg(c, "owner id")
					if err != nil {
						return outputError(err)
					}
					name := c.String("name")
					if name == "" {
						name = id
					}
					o := db.Owner{ID: id, Name: name, CreatedAt: time.Now().Unix()}
					if err := e.col.CreateOwner(c.Context, o); err != nil {
						return outputError(err)
					}
					return outputJSON(c.App.Writer, o)
				},
			},
			{
				Name:  "list",
				Usage: "List owners",
				Action: func(c *cli.Context) error {
					owners, err := e.col.ListOwners(c.Context)
					if err != nil {
						return outputError(err)
					}
					if owners == nil {
						owners = []db.Owner{}
					}
					return outputJSON(c.App.Writer, map[string]any{"owners": owners})
				},
			},
		},
	}
}

// bookmarkCmd creates the bookmark command group.
func bookmarkCmd(e *engine) *cli.Command {
	return &cli.Command{
		Name:  "bookmark",
		Usage: "Manage the live bookmark collection",
		Subcommands: []*cli.Command{
			{
				Name:  "add",
				Usage: "Add or update a bookmark",
				Flags: []cli.Flag{
					ownerFlag(),
					&cli.StringFlag{Name: "id", Usage: "Bookmark id (generated when omitted)"},
					&cli.StringFlag{Name: "title", Aliases: []string{"t"}, Required: true, Usage: "Title"},
					&cli.StringFlag{Name: "url", Aliases: []string{"u"}, Required: true, Usage: "URL"},
					&cli.StringFlag{Name: "description", Aliases: []string{"d"}, Usage: "Description"},
					&cli.StringSliceFlag{Name: "category", Aliases: []string{"c"}, Usage: "Category id (repeatable)"},
					&cli.StringSliceFlag{Name: "tag", Usage: "Tag id (repeatable)"},
					&cli.BoolFlag{Name: "favorite", Aliases: []string{"f"}, Usage: "Mark as favorite"},
					&cli.IntFlag{Name: "visits", Usage: "Visit count"},
				},
				Action: func(c *cli.Context) error {
					ownerID := c.String("owner")
					if err := requireOwner(c.Context, e, ownerID); err != nil {
						return outputError(err)
					}
					now := time.Now()
					id := c.String("id")
					if id == "" {
						id = ops.NewID(now)
					}
					r := bookmark.Record{
						ID:          id,
						OwnerID:     ownerID,
						Title:       c.String("title"),
						URL:         c.String("url"),
						Description: c.String("description"),
						CategoryIDs: bookmark.SortedIDs(c.StringSlice("category")),
						TagIDs:      bookmark.SortedIDs(c.StringSlice("tag")),
						Favorite:    c.Bool("favorite"),
						VisitCount:  c.Int("visits"),
						CreatedAt:   now.Unix(),
						UpdatedAt:   now.Unix(),
					}
					if err := e.col.UpsertRecord(c.Context, r); err != nil {
						return outputError(err)
					}
					return outputJSON(c.App.Writer, r)
				},
			},
			{
				Name:  "import",
				Usage: "Add or update bookmarks from a JSON array piped via stdin",
				Flags: []cli.Flag{ownerFlag()},
				Action: func(c *cli.Context) error {
					ownerID := c.String("owner")
					if err := requireOwner(c.Context, e, ownerID); err != nil {
						return outputError(err)
					}
					if !stdinHasData() {
						return outputError(errors.NewValidation("bookmarks must be piped via stdin"))
					}
					data, err := readStdin(maxImportBytes)
					if err != nil {
						return outputError(errors.NewValidation(err.Error()))
					}
					var records []bookmark.Record
					if err := json.Unmarshal([]byte(data), &records); err != nil {
						return outputError(errors.NewValidation("invalid bookmark JSON: " + err.Error()))
					}
					now := time.Now()
					for i := range records {
						r := &records[i]
						r.OwnerID = ownerID
						if r.ID == "" {
							r.ID = ops.NewID(now)
						}
						if r.CreatedAt == 0 {
							r.CreatedAt = now.Unix()
						}
						if r.UpdatedAt == 0 {
							r.UpdatedAt = now.Unix()
						}
						r.CategoryIDs = bookmark.SortedIDs(r.CategoryIDs)
						r.TagIDs = bookmark.SortedIDs(r.TagIDs)
						if err := e.col.UpsertRecord(c.Context, *r); err != nil {
							return outputError(fmt.Errorf("records[%d]: %w", i, err))
						}
					}
					return outputJSON(c.App.Writer, map[string]any{"imported": len(records)})
				},
			},
			{
				Name:      "remove",
				Usage:     "Remove a bookmark",
				ArgsUsage: "<id>",
				Flags:     []cli.Flag{ownerFlag()},
				Action: func(c *cli.Context) error {
					id, err := requireArg(c, "bookmark id")
					if err != nil {
						return outputError(err)
					}
					if err := e.col.DeleteRecord(c.Context, c.String("owner"), id); err != nil {
						return outputError(err)
					}
					return outputJSON(c.App.Writer, map[string]any{"id": id, "removed": true})
				},
			},
			{
				Name:  "list",
				Usage: "Show an owner's live collection",
				Flags: []cli.Flag{ownerFlag()},
				Action: func(c *cli.Context) error {
					ownerID := c.String("owner")
					if err := requireOwner(c.Context, e, ownerID); err != nil {
						return outputError(err)
					}
					col, err := e.col.ReadCollection(c.Context, ownerID)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c.App.Writer, col)
				},
			},
		},
	}
}

// categoryCmd creates the category command.
func categoryCmd(e *engine) *cli.Command {
	return &cli.Command{
		Name:  "category",
		Usage: "Manage categories",
		Subcommands: []*cli.Command{
			{
				Name:      "add",
				Usage:     "Add or rename a category",
				ArgsUsage: "<id> <name>",
				Flags:     []cli.Flag{ownerFlag()},
				Action: func(c *cli.Context) error {
					id, name, err := requireTwoArgs(c, "category id", "name")
					if err != nil {
						return outputError(err)
					}
					cat := bookmark.Category{ID: id, OwnerID: c.String("owner"), Name: name}
					if err := requireOwner(c.Context, e, cat.OwnerID); err != nil {
						return outputError(err)
					}
					if err := e.col.UpsertCategory(c.Context, cat); err != nil {
						return outputError(err)
					}
					return outputJSON(c.App.Writer, cat)
				},
			},
		},
	}
}

// tagCmd creates the tag command.
func tagCmd(e *engine) *cli.Command {
	return &cli.Command{
		Name:  "tag",
		Usage: "Manage tags",
		Subcommands: []*cli.Command{
			{
				Name:      "add",
				Usage:     "Add or rename a tag",
				ArgsUsage: "<id> <name>",
				Flags:     []cli.Flag{ownerFlag()},
				Action: func(c *cli.Context) error {
					id, name, err := requireTwoArgs(c, "tag id", "name")
					if err != nil {
						return outputError(err)
					}
					t := bookmark.Tag{ID: id, OwnerID: c.String("owner"), Name: name}
					if err := requireOwner(c.Context, e, t.OwnerID); err != nil {
						return outputError(err)
					}
					if err := e.col.UpsertTag(c.Context, t); err != nil {
						return outputError(err)
					}
					return outputJSON(c.App.Writer, t)
				},
			},
		},
	}
}

// settingCmd creates the setting command.
func settingCmd(e *engine) *cli.Command {
	return &cli.Command{
		Name:  "setting",
		Usage: "Manage owner settings",
		Subcommands: []*cli.Command{
			{
				Name:      "set",
				Usage:     "Set a setting",
				ArgsUsage: "<key> <value>",
				Flags:     []cli.Flag{ownerFlag()},
				Action: func(c *cli.Context) error {
					key, value, err := requireTwoArgs(c, "key", "value")
					if err != nil {
						return outputError(err)
					}
					ownerID := c.String("owner")
					if err := requireOwner(c.Context, e, ownerID); err != nil {
						return outputError(err)
					}
					if err := e.col.SetSetting(c.Context, ownerID, key, value); err != nil {
						return outputError(err)
					}
					return outputJSON(c.App.Writer, map[string]string{"key": key, "value": value})
				},
			},
		},
	}
}

// snapshotCmd creates the snapshot command.
func snapshotCmd(e *engine) *cli.Command {
	return &cli.Command{
		Name:  "snapshot",
		Usage: "Capture the live collection into a new capsule",
		Flags: []cli.Flag{
			ownerFlag(),
			&cli.StringFlag{Name: "title", Aliases: []string{"t"}, Required: true, Usage: "Capsule title"},
			&cli.StringFlag{Name: "description", Aliases: []string{"d"}, Usage: "Capsule description"},
			&cli.BoolFlag{Name: "settings", Aliases: []string{"s"}, Usage: "Include settings"},
			&cli.BoolFlag{Name: "analytics", Aliases: []string{"a"}, Usage: "Include visit analytics"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.Snapshot(c.Context, e.deps, ops.SnapshotInput{
				OwnerID:          c.String("owner"),
				Title:            c.String("title"),
				Description:      c.String("description"),
				IncludeSettings:  c.Bool("settings"),
				IncludeAnalytics: c.Bool("analytics"),
				Trigger:          string(capsule.TriggerManual),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, output)
		},
	}
}

// capsulesCmd creates the capsules command.
func capsulesCmd(e *engine) *cli.Command {
	return &cli.Command{
		Name:  "capsules",
		Usage: "List an owner's capsules, oldest first",
		Flags: []cli.Flag{
			ownerFlag(),
			&cli.StringFlag{Name: "trigger", Usage: "Filter by trigger: manual|scheduled"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.ListCapsules(c.Context, e.deps, ops.ListInput{
				OwnerID: c.String("owner"),
				Trigger: c.String("trigger"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, output)
		},
	}
}

// showCmd creates the show command.
func showCmd(e *engine) *cli.Command {
	return &cli.Command{
		Name:      "show",
		Usage:     "Show a capsule with its frozen content",
		ArgsUsage: "<id>",
		Action: func(c *cli.Context) error {
			id, err := requireArg(c, "capsule id")
			if err != nil {
				return outputError(err)
			}
			output, err := ops.GetCapsule(c.Context, e.deps, ops.GetInput{ID: id})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, output)
		},
	}
}

// diffCmd creates the diff command.
func diffCmd(e *engine) *cli.Command {
	return &cli.Command{
		Name:      "diff",
		Usage:     "Compare two capsules (A is the older side)",
		ArgsUsage: "<capsule-a> <capsule-b>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "summary", Usage: "Print a Markdown summary instead of JSON"},
		},
		Action: func(c *cli.Context) error {
			a, b, err := requireTwoArgs(c, "capsule a", "capsule b")
			if err != nil {
				return outputError(err)
			}
			output, err := ops.Diff(c.Context, e.deps, ops.DiffInput{CapsuleAID: a, CapsuleBID: b})
			if err != nil {
				return outputError(err)
			}
			if c.Bool("summary") {
				_, err := io.WriteString(c.App.Writer, ops.SummarizeDiff(output))
				return err
			}
			return outputJSON(c.App.Writer, output)
		},
	}
}

// restoreCmd creates the restore command.
func restoreCmd(e *engine) *cli.Command {
	return &cli.Command{
		Name:      "restore",
		Usage:     "Restore a capsule onto the live collection (a safety capsule is taken first)",
		ArgsUsage: "<capsule-id>",
		Flags: []cli.Flag{
			ownerFlag(),
			&cli.StringFlag{Name: "policy", Aliases: []string{"p"}, Value: string(ops.PolicyReplaceAll),
				Usage: "Conflict policy: replace_all|merge_keep_newer|merge_keep_capsule"},
		},
		Action: func(c *cli.Context) error {
			id, err := requireArg(c, "capsule id")
			if err != nil {
				return outputError(err)
			}
			output, err := ops.Restore(c.Context, e.deps, ops.RestoreInput{
				CapsuleID: id,
				OwnerID:   c.String("owner"),
				Policy:    c.String("policy"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, output)
		},
	}
}

// deleteCmd creates the delete command.
func deleteCmd(e *engine) *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Usage:     "Permanently delete a capsule",
		ArgsUsage: "<id>",
		Action: func(c *cli.Context) error {
			id, err := requireArg(c, "capsule id")
			if err != nil {
				return outputError(err)
			}
			output, err := ops.DeleteCapsule(c.Context, e.deps, ops.DeleteInput{ID: id})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, output)
		},
	}
}

// exportCmd creates the export command.
func exportCmd(e *engine) *cli.Command {
	return &cli.Command{
		Name:      "export",
		Usage:     "Export a capsule to a JSONL file",
		ArgsUsage: "<id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "path", Usage: "Output path (default: ~/.tcap/exports/<title>-<timestamp>.jsonl)"},
		},
		Action: func(c *cli.Context) error {
			id, err := requireArg(c, "capsule id")
			if err != nil {
				return outputError(err)
			}
			output, err := ops.Export(c.Context, e.deps, ops.ExportInput{
				CapsuleID: id,
				Path:      c.String("path"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, output)
		},
	}
}

// policyCmd creates the policy command group.
func policyCmd(e *engine) *cli.Command {
	return &cli.Command{
		Name:  "policy",
		Usage: "Manage scheduled capture and retention policies",
		Subcommands: []*cli.Command{
			{
				Name:  "set",
				Usage: "Create or replace an owner's policy",
				Flags: []cli.Flag{
					ownerFlag(),
					&cli.StringFlag{Name: "frequency", Aliases: []string{"f"}, Value: string(retention.Weekly),
						Usage: "Capture frequency: daily|weekly|monthly"},
					&cli.IntFlag{Name: "max", Aliases: []string{"m"}, Value: 10, Usage: "Scheduled capsules to keep"},
					&cli.BoolFlag{Name: "auto-cleanup", Usage: "Delete the oldest scheduled capsules beyond --max"},
				},
				Action: func(c *cli.Context) error {
					ownerID := c.String("owner")
					if err := requireOwner(c.Context, e, ownerID); err != nil {
						return outputError(err)
					}
					p, err := retention.SetPolicy(c.Context, e.policies, retention.Policy{
						OwnerID:     ownerID,
						Frequency:   retention.Frequency(c.String("frequency")),
						MaxCapsules: c.Int("max"),
						AutoCleanup: c.Bool("auto-cleanup"),
					}, time.Now())
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c.App.Writer, p)
				},
			},
			{
				Name:  "show",
				Usage: "Show an owner's policy and scheduler state",
				Flags: []cli.Flag{ownerFlag()},
				Action: func(c *cli.Context) error {
					ownerID := c.String("owner")
					p, err := e.policies.GetPolicy(c.Context, ownerID)
					if err != nil {
						return outputError(err)
					}
					state, err := e.policies.GetState(c.Context, ownerID)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c.App.Writer, map[string]any{"policy": p, "state": state})
				},
			},
			{
				Name:  "delete",
				Usage: "Remove an owner's policy (existing capsules are kept)",
				Flags: []cli.Flag{ownerFlag()},
				Action: func(c *cli.Context) error {
					ownerID := c.String("owner")
					if err := e.policies.DeletePolicy(c.Context, ownerID); err != nil {
						return outputError(err)
					}
					return outputJSON(c.App.Writer, map[string]any{"owner_id": ownerID, "deleted": true})
				},
			},
		},
	}
}

// scheduleCmd creates the schedule command.
func scheduleCmd(e *engine) *cli.Command {
	return &cli.Command{
		Name:  "schedule",
		Usage: "Run the retention scheduler until interrupted",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "once", Usage: "Run one tick, print the results, and exit"},
		},
		Action: func(c *cli.Context) error {
			if c.Bool("once") {
				results := e.sched.Tick(c.Context, e.sched.Now())
				if results == nil {
					results = []retention.Result{}
				}
				return outputJSON(c.App.Writer, map[string]any{"results": results})
			}

			defer e.sched.Close()
			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()
			ticker := time.NewTicker(e.cfg.SchedulerTick())
			defer ticker.Stop()
			e.sched.Run(ctx, ticker.C)
			return nil
		},
	}
}

// serveCmd creates the serve command.
func serveCmd(e *engine) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the HTTP API and run the retention scheduler",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Usage: "Interface to bind (default from config)"},
			&cli.IntFlag{Name: "port", Usage: "Port to listen on (default from config)"},
			&cli.BoolFlag{Name: "no-scheduler", Usage: "Do not run the retention scheduler"},
		},
		Action: func(c *cli.Context) error {
			bind := e.cfg.HTTPBind
			if c.IsSet("bind") {
				bind = c.String("bind")
			}
			port := e.cfg.HTTPPort
			if c.IsSet("port") {
				port = c.Int("port")
			}

			e.registry.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
			srv, err := web.NewServer(e.deps, e.registry, Version, bind, port)
			if err != nil {
				return outputError(errors.NewInternal(err))
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return web.Run(gctx, srv, e.logger)
			})
			if !c.Bool("no-scheduler") {
				defer e.sched.Close()
				g.Go(func() error {
					ticker := time.NewTicker(e.cfg.SchedulerTick())
					defer ticker.Stop()
					e.sched.Run(gctx, ticker.C)
					return nil
				})
			}
			return g.Wait()
		},
	}
}

// Helper functions

func ownerFlag() cli.Flag {
	return &cli.StringFlag{Name: "owner", Aliases: []string{"o"}, Required: true, Usage: "Owner id"}
}

// requireOwner returns a NOT_FOUND error unless ownerID exists.
func requireOwner(ctx context.Context, e *engine, ownerID string) error {
	ok, err := e.col.OwnerExists(ctx, ownerID)
	if err != nil {
		return err
	}
	if !ok {
		return errors.NewNotFound("owner", ownerID)
	}
	return nil
}

func requireArg(c *cli.Context, what string) (string, error) {
	arg := strings.TrimSpace(c.Args().First())
	if arg == "" {
		return "", errors.NewValidation(what + " is required")
	}
	return arg, nil
}

func requireTwoArgs(c *cli.Context, first, second string) (string, string, error) {
	if c.NArg() < 2 {
		return "", "", errors.NewValidation(fmt.Sprintf("%s and %s are required", first, second))
	}
	return c.Args().Get(0), c.Args().Get(1), nil
}

// outputJSON marshals result to w as JSON.
func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	if tErr, ok := errors.As(err); ok {
		msg := fmt.Sprintf("[%s] %s", tErr.Code, tErr.Message)
		if err != error(tErr) {
			msg = fmt.Sprintf("[%s] %s", tErr.Code, err.Error())
		} else if step := tErr.Step(); step != "" {
			msg += " (step: " + step + ")"
		}
		return cli.Exit(msg, 1)
	}
	return cli.Exit(err.Error(), 1)
}

// stdinHasData returns true if stdin has piped data (not a terminal).
func stdinHasData() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

// readStdin reads all content from stdin, failing if it exceeds limit bytes.
func readStdin(limit int64) (string, error) {
	data, err := io.ReadAll(io.LimitReader(os.Stdin, limit+1))
	if err != nil {
		return "", err
	}
	if int64(len(data)) > limit {
		return "", fmt.Errorf("input exceeds %d bytes", limit)
	}
	return strings.TrimSpace(string(data)), nil
}
