package ops

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hpungsan/tcap/internal/config"
	"github.com/hpungsan/tcap/internal/errors"
)

// ExportExt is the required extension of export files.
const ExportExt = ".jsonl"

// ValidateExportPath checks a destination for a capsule export:
//  1. no ".." components
//  2. .jsonl extension
//  3. the file sits directly in ~/.tcap/exports or a configured allowed path
//  4. neither the file nor its parent directory is a symlink
//
// Rule 3 forbids subdirectories so an intermediate component cannot be swapped
// for a symlink between this check and the open. The final component is opened
// with O_NOFOLLOW. AllowUnsafePaths lifts rule 3 only.
func ValidateExportPath(path string, cfg *config.Config) error {
	if path == "" {
		return errors.NewValidation("path is required")
	}
	if containsTraversal(path) {
		return errors.NewValidation("path must not contain directory traversal (..)")
	}

	cleaned := filepath.Clean(path)
	if filepath.Ext(cleaned) != ExportExt {
		return errors.NewValidation("path must have " + ExportExt + " extension")
	}
	absPath, err := filepath.Abs(cleaned)
	if err != nil {
		return errors.NewValidation(fmt.Sprintf("invalid path: %v", err))
	}

	if cfg == nil || !cfg.AllowUnsafePaths {
		allowedDirs, err := allowedExportDirs(cfg)
		if err != nil {
			return err
		}
		parentDir := filepath.Dir(absPath)
		if !isDirectlyIn(parentDir, allowedDirs) {
			return errors.NewValidation(fmt.Sprintf(
				"file must be directly in an allowed directory (no subdirectories); allowed: %v", allowedDirs))
		}
		if info, err := os.Lstat(parentDir); err == nil && info.Mode()&os.ModeSymlink != 0 {
			return errors.NewValidation("parent directory must not be a symlink")
		}
	}

	if info, err := os.Lstat(absPath); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return errors.NewValidation("path must not be a symlink")
	}
	return nil
}

// allowedExportDirs returns absolute allowed directories. Existing symlinked
// entries are resolved so they match their real target.
func allowedExportDirs(cfg *config.Config) ([]string, error) {
	defaultDir, err := DefaultExportsDir()
	if err != nil {
		return nil, err
	}
	dirs := []string{defaultDir}
	if cfg != nil {
		for _, p := range cfg.AllowedPaths {
			if filepath.IsAbs(p) {
				dirs = append(dirs, filepath.Clean(p))
			}
		}
	}

	out := make([]string, 0, len(dirs))
	for _, d := range dirs {
		abs, err := filepath.Abs(d)
		if err != nil {
			return nil, errors.NewValidation(fmt.Sprintf("invalid allowed path: %v", err))
		}
		if info, err := os.Lstat(abs); err == nil && info.Mode()&os.ModeSymlink != 0 {
			resolved, err := filepath.EvalSymlinks(abs)
			if err != nil {
				return nil, errors.NewValidation(fmt.Sprintf("cannot resolve symlink in allowed path: %v", err))
			}
			abs = resolved
		}
		out = append(out, abs)
	}
	return out, nil
}

func isDirectlyIn(parentDir string, dirs []string) bool {
	parentDir = filepath.Clean(parentDir)
	for _, d := range dirs {
		if parentDir == filepath.Clean(d) {
			return true
		}
	}
	return false
}

// DefaultExportsDir returns ~/.tcap/exports.
func DefaultExportsDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", errors.NewInternal(fmt.Errorf("failed to get home directory: %w", err))
	}
	return filepath.Join(homeDir, ".tcap", "exports"), nil
}

func containsTraversal(path string) bool {
	seps := string(filepath.Separator)
	if filepath.Separator != '/' {
		seps += "/"
	}
	for _, part := range strings.FieldsFunc(path, func(r rune) bool { return strings.ContainsRune(seps, r) }) {
		if part == ".." {
			return true
		}
	}
	return false
}
