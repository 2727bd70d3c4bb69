package catalog

import (
	"context"
	"fmt"
	"hash/fnv"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"deliveryd/internal/delivery"
	"deliveryd/internal/selection"
	logx "deliveryd/pkg/logx"
)

// Snapshot is an immutable view of the catalog. Callers must not mutate it.
type Snapshot struct {
	Definitions map[string]delivery.Definition
	Categories  delivery.Categories
	LoadedAt    time.Time
	Hash        uint64
}

// Loader produces a candidate snapshot.
type Loader interface {
	Load(ctx context.Context) (*Snapshot, error)
}

type LoaderFunc func(ctx context.Context) (*Snapshot, error)

func (f LoaderFunc) Load(ctx context.Context) (*Snapshot, error) { return f(ctx) }

// FileLoader reads deliveries.yml and categories.yml. A missing categories
// file yields an empty category set.
type FileLoader struct {
	DeliveriesPath string
	CategoriesPath string
}

func (l FileLoader) Paths() []string { return []string{l.DeliveriesPath, l.CategoriesPath} }

func (l FileLoader) Load(ctx context.Context) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	db, err := os.ReadFile(l.DeliveriesPath)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", delivery.DeliveriesFile, err)
	}
	defs, err := delivery.DecodeDefinitions(db)
	if err != nil {
		return nil, err
	}
	var cb []byte
	cats := delivery.Categories{}
	if l.CategoriesPath != "" {
		cb, err = os.ReadFile(l.CategoriesPath)
		switch {
		case err == nil:
			if cats, err = delivery.DecodeCategories(cb); err != nil {
				return nil, err
			}
		case os.IsNotExist(err):
		default:
			return nil, fmt.Errorf("%s: %w", delivery.CategoriesFile, err)
		}
	}
	return &Snapshot{
		Definitions: defs,
		Categories:  cats,
		LoadedAt:    time.Now(),
		Hash:        hashBytes(db, cb),
	}, nil
}

// hashBytes returns a stable 64-bit hash over the given chunks.
func hashBytes(chunks ...[]byte) uint64 {
	h := fnv.New64a()
	for _, b := range chunks {
		_, _ = h.Write(b)
		_, _ = h.Write([]byte{0})
	}
	return h.Sum64()
}

// Result reports the outcome of ReloadWithResult.
type Result struct {
	Success bool              `json:"success"`
	Changed bool              `json:"changed"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

// CommitFunc runs after a changed snapshot has been swapped in.
type CommitFunc func(prev, next *Snapshot)

// Registry holds the committed snapshot.
type Registry struct {
	cur     atomic.Pointer[Snapshot]
	sources *selection.Sources
	log     logx.Logger

	reloadMu sync.Mutex

	hooksMu sync.RWMutex
	hooks   []CommitFunc
}

func NewRegistry(sources *selection.Sources, log logx.Logger) *Registry {
	r := &Registry{sources: sources, log: log.With(logx.String("comp", "catalog"))}
	r.cur.Store(&Snapshot{Definitions: map[string]delivery.Definition{}, Categories: delivery.Categories{}})
	return r
}

// OnCommit registers fn to run after each committed change.
func (r *Registry) OnCommit(fn CommitFunc) {
	if fn == nil {
		return
	}
	r.hooksMu.Lock()
	r.hooks = append(r.hooks, fn)
	r.hooksMu.Unlock()
}

// Current returns the committed snapshot. It is never nil.
func (r *Registry) Current() *Snapshot { return r.cur.Load() }

func (r *Registry) Definition(id string) (delivery.Definition, bool) {
	d, ok := r.Current().Definitions[id]
	return d, ok
}

func (r *Registry) Definitions() map[string]delivery.Definition { return r.Current().Definitions }

func (r *Registry) Categories() delivery.Categories { return r.Current().Categories }

// ReloadWithResult loads a candidate, validates it and commits it unless a
// CRITICAL finding is present. Reloads are serialized.
func (r *Registry) ReloadWithResult(ctx context.Context, loader Loader) Result {
	r.reloadMu.Lock()
	defer r.reloadMu.Unlock()

	prev := r.Current()
	next, err := loader.Load(ctx)
	if err != nil {
		res := Result{Errors: []ValidationError{{
			Source:   delivery.DeliveriesFile,
			Message:  fmt.Sprintf("load failed: %v", err),
			Severity: SeverityCritical,
		}}}
		r.log.Warn("catalog reload rejected", logx.Err(err))
		return res
	}
	if next.Definitions == nil {
		next.Definitions = map[string]delivery.Definition{}
	}
	if next.Categories == nil {
		next.Categories = delivery.Categories{}
	}

	errs := Validate(next, r.sources)
	if HasCritical(errs) {
		r.log.Warn("catalog reload rejected; keeping current snapshot",
			logx.Int("critical", Count(errs, SeverityCritical)),
			logx.Int("errors", Count(errs, SeverityError)),
		)
		for _, e := range errs {
			if e.Severity == SeverityCritical {
				r.log.Warn("catalog finding", logx.String("path", e.Path), logx.String("msg", e.Message))
			}
		}
		return Result{Errors: errs}
	}

	if next.Hash != 0 && next.Hash == prev.Hash {
		r.log.Debug("catalog unchanged; skipping commit")
		return Result{Success: true, Errors: errs}
	}

	r.cur.Store(next)
	r.log.Info("catalog committed",
		logx.Int("deliveries", len(next.Definitions)),
		logx.Int("categories", len(next.Categories)),
		logx.Int("errors", Count(errs, SeverityError)),
		logx.Int("warnings", Count(errs, SeverityWarning)),
	)

	r.hooksMu.RLock()
	hooks := append([]CommitFunc(nil), r.hooks...)
	r.hooksMu.RUnlock()
	for _, fn := range hooks {
		fn(prev, next)
	}
	return Result{Success: true, Changed: true, Errors: errs}
}
