package main

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hpungsan/tcap/internal/config"
	"github.com/hpungsan/tcap/internal/db"
	"github.com/hpungsan/tcap/internal/logging"
	"github.com/hpungsan/tcap/internal/mcp"
	"github.com/hpungsan/tcap/internal/metrics"
	"github.com/hpungsan/tcap/internal/ops"
	"github.com/hpungsan/tcap/internal/ownerlock"
	"github.com/hpungsan/tcap/internal/retention"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"owner": true, "bookmark": true, "category": true, "tag": true, "setting": true,
	"snapshot": true, "capsules": true, "show": true, "diff": true,
	"restore": true, "delete": true, "export": true,
	"policy": true, "schedule": true, "serve": true,
	"help": true,
}

// engine wires the stores, locks, metrics, and scheduler shared by every mode.
type engine struct {
	cfg      *config.Config
	logger   *slog.Logger
	deps     ops.Deps
	col      *db.Collection
	policies retention.Store
	sched    *retention.Scheduler
	registry *prometheus.Registry
}

func newEngine(database *sql.DB, cfg *config.Config, logger *slog.Logger) *engine {
	registry := prometheus.NewRegistry()
	locks := ownerlock.New()
	col := db.NewCollection(database, locks)
	deps := ops.Deps{
		Store:   db.NewCapsuleStore(database),
		Live:    col,
		Locks:   locks,
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics.New(registry),
	}
	policies := retention.NewDBStore(db.NewScheduleStore(database))
	return &engine{
		cfg:      cfg,
		logger:   logger,
		deps:     deps,
		col:      col,
		policies: policies,
		sched:    retention.NewScheduler(deps, policies, nil),
		registry: registry,
	}
}

// isCLIMode determines if we should run CLI vs MCP server.
func isCLIMode() bool {
	if len(os.Args) < 2 {
		return false // No args → MCP server
	}
	arg := os.Args[1]
	if cliCommands[arg] {
		return true
	}
	if arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" {
		return true
	}
	return false // Default → MCP server
}

// isHelpOrVersion returns true if the user is requesting help or version info.
func isHelpOrVersion() bool {
	if len(os.Args) < 2 {
		return false
	}
	arg := os.Args[1]
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" || arg == "help"
}

// isTerminal returns true if stdin is a terminal (not piped).
func isTerminal() bool {
	stat, _ := os.Stdin.Stat()
	return (stat.Mode() & os.ModeCharDevice) != 0
}

// printBanner displays a friendly banner when run interactively without args.
func printBanner() {
	fmt.Println(`
   _
  | |_ ___ __ _ _ __
  | __/ __/ _' | '_ \
  | || (_| (_| | |_) |
   \__\___\__,_| .__/
               |_|

  Time capsules for bookmark collections

  Usage: tcap <command> [options]
         tcap --help

  MCP server mode requires piped input.`)
}

func main() {
	if len(os.Args) < 2 && isTerminal() {
		printBanner()
		return
	}

	// Handle --help/--version before DB init (no DB needed)
	if isHelpOrVersion() {
		app := newCLIApp(nil)
		if err := app.Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: could not determine home directory: %v\n", err)
		os.Exit(1)
	}
	baseDir := filepath.Join(homeDir, ".tcap")

	cwd, err := os.Getwd()
	if err != nil {
		cwd = baseDir
	}
	cfg, err := config.LoadWithRepo(baseDir, cwd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Logs always go to stderr; stdout belongs to CLI output or the MCP transport.
	logger := logging.New(logging.FromConfig(cfg))
	slog.SetDefault(logger)

	if unknown := mcp.ValidateDisabledTools(cfg.DisabledTools); len(unknown) > 0 {
		logger.Warn("unknown tools in disabled_tools", "tools", unknown)
	}

	database, err := db.Init(baseDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to initialize database: %v\n", err)
		os.Exit(1)
	}
	defer database.Close()
	db.ConfigurePool(database, cfg)

	e := newEngine(database, cfg, logger)

	if isCLIMode() {
		app := newCLIApp(e)
		if err := app.Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Unknown argument + terminal → show error (don't start MCP server)
	if len(os.Args) >= 2 && isTerminal() {
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", os.Args[1])
		fmt.Fprintf(os.Stderr, "Run 'tcap --help' for usage.\n")
		os.Exit(1)
	}

	err = mcp.Run(e.deps, e.sched, cfg, Version)
	e.sched.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
