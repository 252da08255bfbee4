package ops

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hpungsan/tcap/internal/capsule"
	"github.com/hpungsan/tcap/internal/errors"
)

func exportEnv(t *testing.T) (*testEnv, string, string) {
	t.Helper()
	env := newTestEnv(t)
	env.seedAlice(t)
	dir := t.TempDir()
	env.Config.AllowedPaths = []string{dir}
	id := env.snapshot(t, "alice", "Reading list")
	return env, dir, id
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open export: %v", err)
	}
	defer f.Close()
	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scan export: %v", err)
	}
	return lines
}

func TestExport_HappyPath(t *testing.T) {
	env, dir, id := exportEnv(t)
	path := filepath.Join(dir, "out.jsonl")

	out, err := Export(context.Background(), env.Deps, ExportInput{CapsuleID: id, Path: path})
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if out.Path != path || out.Items != 2 || out.ExportedAt == 0 {
		t.Errorf("output = %+v", out)
	}

	lines := readLines(t, path)
	if len(lines) != 3 {
		t.Fatalf("lines = %d, want 3 (header + 2 items)", len(lines))
	}

	var header capsule.ExportHeader
	if err := json.Unmarshal([]byte(lines[0]), &header); err != nil {
		t.Fatalf("header: %v", err)
	}
	if !header.TcapExport || header.SchemaVersion != capsule.ExportSchemaVersion {
		t.Errorf("header = %+v", header)
	}
	if header.Capsule.ID != id || header.Capsule.Title != "Reading list" {
		t.Errorf("header capsule = %+v", header.Capsule)
	}
	if header.Settings["theme"] != "dark" || len(header.Categories) != 1 {
		t.Errorf("header content = %+v", header)
	}

	var first capsule.Item
	if err := json.Unmarshal([]byte(lines[1]), &first); err != nil {
		t.Fatalf("item: %v", err)
	}
	if first.ID != "b1" || first.URL != "https://example.com/b1" {
		t.Errorf("first item = %+v", first)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("file permissions = %o, want 0600", perm)
	}
}

func TestExport_ReplacesExistingFile(t *testing.T) {
	env, dir, id := exportEnv(t)
	path := filepath.Join(dir, "out.jsonl")
	if err := os.WriteFile(path, []byte("old\n"), 0600); err != nil {
		t.Fatal(err)
	}

	if _, err := Export(context.Background(), env.Deps, ExportInput{CapsuleID: id, Path: path}); err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if lines := readLines(t, path); len(lines) != 3 {
		t.Errorf("lines = %d, want 3", len(lines))
	}

	// No temp files left behind
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("dir entries = %d, want 1", len(entries))
	}
}

func TestExport_DefaultPath(t *testing.T) {
	env, _, id := exportEnv(t)
	home := t.TempDir()
	t.Setenv("HOME", home)

	out, err := Export(context.Background(), env.Deps, ExportInput{CapsuleID: id})
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	wantDir := filepath.Join(home, ".tcap", "exports")
	if filepath.Dir(out.Path) != wantDir {
		t.Errorf("Path = %q, want dir %q", out.Path, wantDir)
	}
	if !strings.HasPrefix(filepath.Base(out.Path), "reading-list-") {
		t.Errorf("Path = %q, want slugged title prefix", out.Path)
	}
	if _, err := os.Stat(out.Path); err != nil {
		t.Errorf("export file missing: %v", err)
	}
}

func TestDefaultExportPath_SlugsTitle(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	now := testTime()

	path, err := defaultExportPath("../../etc/Passwd Backup", now)
	if err != nil {
		t.Fatal(err)
	}
	base := filepath.Base(path)
	if strings.Contains(base, "..") || strings.Contains(base, "/") {
		t.Errorf("unsafe filename %q", base)
	}
	if !strings.HasSuffix(base, "-2026-01-01T090000.jsonl") {
		t.Errorf("filename = %q", base)
	}

	path, err = defaultExportPath("   ", now)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(filepath.Base(path), "capsule-") {
		t.Errorf("empty title filename = %q", path)
	}
}

func TestExport_Errors(t *testing.T) {
	env, dir, id := exportEnv(t)
	ctx := context.Background()

	if _, err := Export(ctx, env.Deps, ExportInput{Path: filepath.Join(dir, "x.jsonl")}); !errors.Is(err, errors.ErrValidation) {
		t.Errorf("missing capsule id: got %v", err)
	}
	if _, err := Export(ctx, env.Deps, ExportInput{CapsuleID: "nope", Path: filepath.Join(dir, "x.jsonl")}); !errors.Is(err, errors.ErrCapsuleNotFound) {
		t.Errorf("unknown capsule: got %v", err)
	}
	if _, err := Export(ctx, env.Deps, ExportInput{CapsuleID: id, Path: filepath.Join(dir, "x.json")}); !errors.Is(err, errors.ErrValidation) {
		t.Errorf("bad extension: got %v", err)
	}
	if _, err := Export(ctx, env.Deps, ExportInput{CapsuleID: id, Path: dir + "/../x.jsonl"}); !errors.Is(err, errors.ErrValidation) {
		t.Errorf("traversal: got %v", err)
	}
}
