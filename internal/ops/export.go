package ops

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/gosimple/slug"

	"github.com/hpungsan/tcap/internal/capsule"
	"github.com/hpungsan/tcap/internal/errors"
)

// ExportInput contains parameters for the Export operation.
type ExportInput struct {
	CapsuleID string `json:"capsule_id" validate:"required"`
	Path      string `json:"path"` // default: ~/.tcap/exports/<slug(title)>-<timestamp>.jsonl
}

// ExportOutput contains the result of the Export operation.
type ExportOutput struct {
	Path       string `json:"path"`
	Items      int    `json:"items"`
	ExportedAt int64  `json:"exported_at"`
}

// Export writes one capsule to a JSONL file: a header line, then one line per item.
// An existing file at the destination is replaced only once the new file is
// completely written.
func Export(ctx context.Context, d Deps, input ExportInput) (*ExportOutput, error) {
	input.CapsuleID = strings.TrimSpace(input.CapsuleID)
	if err := ValidateStruct(input); err != nil {
		return nil, err
	}

	c, err := d.Store.Get(ctx, input.CapsuleID)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return nil, errors.NewCapsuleNotFound(input.CapsuleID)
		}
		return nil, asStorage(err)
	}

	now := d.now()
	exportPath := input.Path
	if exportPath == "" {
		if exportPath, err = defaultExportPath(c.Title, now); err != nil {
			return nil, err
		}
	}
	if err := ValidateExportPath(exportPath, d.config()); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(exportPath), 0700); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to create export directory: %w", err))
	}

	randBytes := make([]byte, 8)
	if _, err := rand.Read(randBytes); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to generate temp file name: %w", err))
	}
	tempPath := exportPath + "." + hex.EncodeToString(randBytes) + ".tmp"
	file, err := openFileNoFollow(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		if _, ok := errors.As(err); ok {
			return nil, err
		}
		return nil, errors.NewInternal(fmt.Errorf("failed to create export file: %w", err))
	}

	success := false
	defer func() {
		if file != nil {
			file.Close()
		}
		if !success {
			os.Remove(tempPath)
		}
	}()

	w := bufio.NewWriter(file)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(capsule.NewExportHeader(c, now.Unix())); err != nil {
		return nil, errors.NewInternal(err)
	}
	for _, it := range c.Items {
		if err := ctx.Err(); err != nil {
			return nil, errors.NewCancelled("export")
		}
		if err := enc.Encode(it); err != nil {
			return nil, errors.NewInternal(err)
		}
	}

	if err := w.Flush(); err != nil {
		return nil, errors.NewInternal(err)
	}
	if err := file.Sync(); err != nil {
		return nil, errors.NewInternal(err)
	}
	// Windows cannot rename an open file.
	if err := file.Close(); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to close export file: %w", err))
	}
	file = nil

	// os.Rename would follow a symlink planted since validation.
	if info, err := os.Lstat(exportPath); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return nil, errors.NewValidation("export path is a symlink")
	}

	// On Windows, os.Rename fails if the destination exists. The existing file
	// is kept rather than risking a delete then rename.
	if err := os.Rename(tempPath, exportPath); err != nil {
		if runtime.GOOS == "windows" {
			if _, statErr := os.Stat(exportPath); statErr == nil {
				return nil, errors.NewConflict("export destination already exists; choose a new path or delete the existing file")
			}
		}
		return nil, errors.NewInternal(fmt.Errorf("failed to finalize export: %w", err))
	}
	success = true

	d.logger().Info("capsule exported", "capsule", c.ID, "path", exportPath, "items", len(c.Items))
	return &ExportOutput{
		Path:       exportPath,
		Items:      len(c.Items),
		ExportedAt: now.Unix(),
	}, nil
}

// defaultExportPath builds ~/.tcap/exports/<slug>-<timestamp>.jsonl.
// The slug keeps user titles from injecting path components.
func defaultExportPath(title string, now time.Time) (string, error) {
	dir, err := DefaultExportsDir()
	if err != nil {
		return "", err
	}
	name := slug.Make(title)
	if name == "" {
		name = "capsule"
	}
	filename := fmt.Sprintf("%s-%s%s", name, now.Format("2006-01-02T150405"), ExportExt)
	return filepath.Join(dir, filename), nil
}
