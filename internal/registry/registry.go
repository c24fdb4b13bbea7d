// Package registry enforces the business rules of the shelf tool registry:
// unique names, strictly monotonic per-name versions, checksum no-op writes,
// and per-name write serialization atop the SQLite store.
package registry

import (
	"context"
	"encoding/hex"
	"errors"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"

	"github.com/eldlib/shelfreg/internal/db"
)

// nameRe validates tool names: ASCII alphanumeric, underscore, hyphen only.
var nameRe = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

const maxNameLen = 128

type Registry struct {
	db        *db.DB
	logger    *zap.Logger
	opTimeout time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex // per-name write locks
}

func New(database *db.DB, logger *zap.Logger, opTimeout time.Duration) *Registry {
	if opTimeout <= 0 {
		opTimeout = 5 * time.Second
	}
	return &Registry{
		db:        database,
		logger:    logger,
		opTimeout: opTimeout,
		locks:     make(map[string]*sync.Mutex),
	}
}

// nameLock returns the mutex serializing writes for a single name. Locks are
// kept for the process lifetime; the map is bounded by the tool namespace.
func (r *Registry) nameLock(name string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[name]
	if !ok {
		l = &sync.Mutex{}
		r.locks[name] = l
	}
	return l
}

func (r *Registry) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.opTimeout)
}

// Checksum hashes script and icon content. The 0x00 separator keeps
// (script="ab", icon="c") distinct from (script="a", icon="bc").
func Checksum(script string, icon []byte) string {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(script))
	h.Write([]byte{0})
	h.Write(icon)
	return hex.EncodeToString(h.Sum(nil))
}

type PushInput struct {
	Name   string
	Label  string
	Script string
	Icon   []byte
	Author string
}

type PushResult struct {
	Name     string `json:"name"`
	Version  int    `json:"version"`
	Checksum string `json:"checksum"`
	Created  bool   `json:"-"`
	NoOp     bool   `json:"no_op"`
}

func validatePush(in PushInput) error {
	switch {
	case in.Name == "":
		return &ValidationError{Field: "name", Reason: "must not be empty"}
	case len(in.Name) > maxNameLen:
		return &ValidationError{Field: "name", Reason: "too long"}
	case !nameRe.MatchString(in.Name):
		return &ValidationError{Field: "name", Reason: "only alphanumerics, underscore and hyphen allowed"}
	case in.Script == "":
		return &ValidationError{Field: "script", Reason: "must not be empty"}
	}
	return nil
}

// Push creates or updates a tool definition. Identical content is a no-op
// that leaves the version untouched, so duplicate submissions (client
// retries, racing identical writers) converge on the same result.
func (r *Registry) Push(ctx context.Context, in PushInput) (*PushResult, error) {
	if err := validatePush(in); err != nil {
		return nil, err
	}

	sum := Checksum(in.Script, in.Icon)

	// The read-modify-write below must be exclusive per name: two writers
	// that both read version v must not both write v+1.
	lock := r.nameLock(in.Name)
	lock.Lock()
	defer lock.Unlock()

	opCtx, cancel := r.opCtx(ctx)
	defer cancel()

	current, err := r.db.GetTool(opCtx, in.Name)
	switch {
	case errors.Is(err, db.ErrNotFound):
		current = nil
	case err != nil:
		return nil, storageErr("push read", err)
	}

	if current != nil && current.Checksum == sum {
		return &PushResult{
			Name:     current.Name,
			Version:  current.Version,
			Checksum: current.Checksum,
			NoOp:     true,
		}, nil
	}

	put := db.PutToolInput{
		Name:     in.Name,
		Label:    in.Label,
		Script:   in.Script,
		Icon:     in.Icon,
		Checksum: sum,
		Author:   in.Author,
	}
	if current == nil {
		// Fresh lifecycle: version restarts at 1 even if the name existed
		// and was deleted before. The new UUID keeps the histories apart.
		put.LifecycleID = uuid.NewString()
		put.ExpectedVersion = 0
	} else {
		put.LifecycleID = current.LifecycleID
		put.ExpectedVersion = current.Version
	}

	stored, err := r.db.PutTool(opCtx, put)
	if errors.Is(err, db.ErrVersionConflict) {
		// Only reachable if another process wrote the same row between our
		// read and write; in-process writers hold the name lock.
		return nil, ErrConflict
	}
	if err != nil {
		return nil, storageErr("push write", err)
	}

	r.logger.Info("tool pushed",
		zap.String("name", stored.Name),
		zap.Int("version", stored.Version),
		zap.String("author", stored.Author),
		zap.Bool("created", current == nil),
	)

	return &PushResult{
		Name:     stored.Name,
		Version:  stored.Version,
		Checksum: stored.Checksum,
		Created:  current == nil,
	}, nil
}

// Fetch returns the full active definition for name.
func (r *Registry) Fetch(ctx context.Context, name string) (*db.Tool, error) {
	opCtx, cancel := r.opCtx(ctx)
	defer cancel()

	t, err := r.db.GetTool(opCtx, name)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr("fetch", err)
	}
	return t, nil
}

// Remove deletes the active definition. Deleting an absent name is
// ErrNotFound, not a failure of the registry.
func (r *Registry) Remove(ctx context.Context, name string) error {
	lock := r.nameLock(name)
	lock.Lock()
	defer lock.Unlock()

	opCtx, cancel := r.opCtx(ctx)
	defer cancel()

	err := r.db.DeleteTool(opCtx, name)
	if errors.Is(err, db.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return storageErr("remove", err)
	}

	r.logger.Info("tool removed", zap.String("name", name))
	return nil
}

// ListAll returns summaries of every active tool, name ascending, so clients
// render a stable shelf order.
func (r *Registry) ListAll(ctx context.Context) ([]db.ToolSummary, error) {
	opCtx, cancel := r.opCtx(ctx)
	defer cancel()

	tools, err := r.db.ListTools(opCtx)
	if err != nil {
		return nil, storageErr("list", err)
	}
	return tools, nil
}

// History returns the append-only revision log for a name, newest first.
// ErrNotFound only when the name never existed in any lifecycle.
func (r *Registry) History(ctx context.Context, name string) ([]db.Revision, error) {
	opCtx, cancel := r.opCtx(ctx)
	defer cancel()

	revs, err := r.db.ListRevisions(opCtx, name)
	if err != nil {
		return nil, storageErr("history", err)
	}
	if len(revs) == 0 {
		return nil, ErrNotFound
	}
	return revs, nil
}

// Count reports the number of active tools (health probe).
func (r *Registry) Count(ctx context.Context) (int, error) {
	opCtx, cancel := r.opCtx(ctx)
	defer cancel()

	n, err := r.db.CountTools(opCtx)
	if err != nil {
		return 0, storageErr("count", err)
	}
	return n, nil
}
