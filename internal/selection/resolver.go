// Package selection turns RANDOM/FIXED selectors into a concrete category and item.
package selection

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/text/cases"

	"deliveryd/internal/delivery"
)

var (
	ErrCategoryNotFound    = errors.New("category not found")
	ErrCategoryUnavailable = errors.New("no categories available")
	ErrItemUnavailable     = errors.New("no items available")
	ErrInvalidMode         = errors.New("invalid selection mode")
)

// Rand is the randomness source. Intn must return a value in [0, n).
type Rand interface {
	Intn(n int) int
}

// lockedRand makes a *rand.Rand safe for concurrent resolvers.
type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func (l *lockedRand) Intn(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Intn(n)
}

// NewRand returns a concurrency-safe Rand seeded from the clock.
func NewRand() Rand {
	return &lockedRand{r: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// NewSeededRand returns a deterministic Rand, for tests and replays.
func NewSeededRand(seed int64) Rand {
	return &lockedRand{r: rand.New(rand.NewSource(seed))}
}

// Resolver resolves selectors against a category table. It has no side effects.
type Resolver struct {
	categories delivery.Categories
	rng        Rand
}

func NewResolver(categories delivery.Categories, rng Rand) *Resolver {
	if rng == nil {
		rng = NewRand()
	}
	return &Resolver{categories: categories, rng: rng}
}

// ResolveCategory returns the configured category name for a selector.
//
// FIXED looks up value exactly, then case-insensitively, and returns the
// configured spelling. RANDOM draws uniformly from all category names.
func (r *Resolver) ResolveCategory(mode delivery.Mode, value string) (string, error) {
	switch mode {
	case delivery.ModeFixed:
		if _, ok := r.categories[value]; ok {
			return value, nil
		}
		// Casers are stateful; build one per lookup.
		fold := cases.Fold()
		want := fold.String(value)
		for _, name := range r.categories.Names() {
			if fold.String(name) == want {
				return name, nil
			}
		}
		return "", fmt.Errorf("%w: %q", ErrCategoryNotFound, value)
	case delivery.ModeRandom, "":
		names := r.categories.Names()
		if len(names) == 0 {
			return "", ErrCategoryUnavailable
		}
		return names[r.rng.Intn(len(names))], nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
}

// ResolveItem returns an item for the given category.
//
// FIXED returns value verbatim and does not consult the category list.
// RANDOM draws uniformly from the category's items.
func (r *Resolver) ResolveItem(category string, mode delivery.Mode, value string) (string, error) {
	switch mode {
	case delivery.ModeFixed:
		return value, nil
	case delivery.ModeRandom, "":
		items := r.categories[category]
		if len(items) == 0 {
			return "", fmt.Errorf("%w in category %q", ErrItemUnavailable, category)
		}
		return items[r.rng.Intn(len(items))], nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
}

// Resolve resolves the category then the item of a definition.
func (r *Resolver) Resolve(def delivery.Definition) (category, item string, err error) {
	category, err = r.ResolveCategory(def.Category.Mode, def.Category.Value)
	if err != nil {
		return "", "", err
	}
	item, err = r.ResolveItem(category, def.Item.Mode, def.Item.Value)
	if err != nil {
		return "", "", err
	}
	return category, item, nil
}
