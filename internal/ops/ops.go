package ops

import (
	"context"
	"crypto/rand"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hpungsan/tcap/internal/bookmark"
	"github.com/hpungsan/tcap/internal/capsule"
	"github.com/hpungsan/tcap/internal/config"
	"github.com/hpungsan/tcap/internal/metrics"
	"github.com/hpungsan/tcap/internal/ownerlock"
)

// CapsuleStore persists immutable capsules.
type CapsuleStore interface {
	Save(ctx context.Context, c *capsule.Capsule) (string, error)
	Get(ctx context.Context, id string) (*capsule.Capsule, error)
	// ListByOwner returns summaries oldest first. A nil trigger lists all kinds.
	ListByOwner(ctx context.Context, ownerID string, trigger *capsule.Trigger) ([]capsule.CapsuleSummary, error)
	// Latest returns nil when the owner has no capsule of that kind.
	Latest(ctx context.Context, ownerID string, trigger capsule.Trigger) (*capsule.CapsuleSummary, error)
	Delete(ctx context.Context, id string) error
}

// CollectionReader reads an owner's live collection in one consistent pass.
type CollectionReader interface {
	OwnerExists(ctx context.Context, ownerID string) (bool, error)
	ReadCollection(ctx context.Context, ownerID string) (bookmark.Collection, error)
}

// CollectionWriter replaces an owner's live collection atomically.
type CollectionWriter interface {
	ReplaceCollection(ctx context.Context, ownerID string, col bookmark.Collection) error
}

// LiveCollection is the live store the engine captures from and restores into.
type LiveCollection interface {
	CollectionReader
	CollectionWriter
}

// Deps wires the engine operations to their collaborators.
// Locks may be nil, in which case captures and restores are not serialized.
type Deps struct {
	Store   CapsuleStore
	Live    LiveCollection
	Locks   *ownerlock.Locks
	Config  *config.Config
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// Now defaults to time.Now
	Now func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d Deps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

func (d Deps) config() *config.Config {
	if d.Config != nil {
		return d.Config
	}
	return config.DefaultConfig()
}

// lockOwner enters the owner's write section.
func (d Deps) lockOwner(ctx context.Context, ownerID string) (func(), error) {
	if d.Locks == nil {
		return func() {}, nil
	}
	return d.Locks.Lock(ctx, ownerID)
}

var (
	idMu      sync.Mutex
	idEntropy = ulid.Monotonic(rand.Reader, 0)
)

// NewID returns a ULID for t. IDs generated in this process are strictly
// increasing for non-decreasing t.
func NewID(t time.Time) string {
	idMu.Lock()
	defer idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), idEntropy).String()
}
