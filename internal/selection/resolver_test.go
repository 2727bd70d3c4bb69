package selection

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deliveryd/internal/delivery"
)

type fixedRand struct{ n int }

func (f fixedRand) Intn(n int) int { return f.n % n }

func testCategories() delivery.Categories {
	return delivery.Categories{
		"ores":  {"DIAMOND", "EMERALD", "GOLD_INGOT"},
		"crops": {"WHEAT", "CARROT"},
		"empty": {},
	}
}

func TestResolveCategoryFixed(t *testing.T) {
	t.Parallel()
	r := NewResolver(testCategories(), fixedRand{})

	got, err := r.ResolveCategory(delivery.ModeFixed, "ores")
	require.NoError(t, err)
	assert.Equal(t, "ores", got)

	got, err = r.ResolveCategory(delivery.ModeFixed, "ORES")
	require.NoError(t, err)
	assert.Equal(t, "ores", got, "case-insensitive match returns configured spelling")

	_, err = r.ResolveCategory(delivery.ModeFixed, "gems")
	assert.True(t, errors.Is(err, ErrCategoryNotFound))
}

func TestResolveCategoryRandomMembership(t *testing.T) {
	t.Parallel()
	cats := testCategories()
	r := NewResolver(cats, NewSeededRand(42))

	for i := 0; i < 500; i++ {
		got, err := r.ResolveCategory(delivery.ModeRandom, "")
		require.NoError(t, err)
		_, ok := cats[got]
		require.True(t, ok, "random category %q not in set", got)
	}
}

func TestResolveCategoryRandomEmpty(t *testing.T) {
	t.Parallel()
	r := NewResolver(delivery.Categories{}, nil)
	_, err := r.ResolveCategory(delivery.ModeRandom, "")
	assert.True(t, errors.Is(err, ErrCategoryUnavailable))
}

func TestResolveItemRandomMembership(t *testing.T) {
	t.Parallel()
	cats := testCategories()
	r := NewResolver(cats, NewSeededRand(7))

	seen := map[string]bool{}
	for i := 0; i < 500; i++ {
		got, err := r.ResolveItem("ores", delivery.ModeRandom, "")
		require.NoError(t, err)
		require.Contains(t, cats["ores"], got)
		seen[got] = true
	}
	assert.Len(t, seen, 3, "uniform draw should hit every item over 500 draws")
}

func TestResolveItemRandomEmpty(t *testing.T) {
	t.Parallel()
	r := NewResolver(testCategories(), nil)

	_, err := r.ResolveItem("empty", delivery.ModeRandom, "")
	assert.True(t, errors.Is(err, ErrItemUnavailable))

	_, err = r.ResolveItem("missing", delivery.ModeRandom, "")
	assert.True(t, errors.Is(err, ErrItemUnavailable))
}

func TestResolveItemFixedIdentity(t *testing.T) {
	t.Parallel()
	r := NewResolver(testCategories(), nil)

	for _, v := range []string{"DIAMOND", "oraxen:amethyst", " spaced ", "", "ÜMLAUT_ß"} {
		got, err := r.ResolveItem("ores", delivery.ModeFixed, v)
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
}

func TestResolveDefinition(t *testing.T) {
	t.Parallel()
	r := NewResolver(testCategories(), fixedRand{n: 1})

	def := delivery.Definition{
		Category: delivery.Selector{Mode: delivery.ModeFixed, Value: "crops"},
		Item:     delivery.Selector{Mode: delivery.ModeRandom},
	}
	cat, item, err := r.Resolve(def)
	require.NoError(t, err)
	assert.Equal(t, "crops", cat)
	assert.Equal(t, "CARROT", item)
}

func TestParseItemRef(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw  string
		want ItemRef
	}{
		{raw: "DIAMOND", want: ItemRef{Source: SourceNative, ID: "DIAMOND"}},
		{raw: "minecraft:diamond", want: ItemRef{Source: SourceNative, ID: "diamond"}},
		{raw: "itemsadder:ruby", want: ItemRef{Source: SourceItemsAdder, ID: "ruby"}},
		{raw: "Oraxen:amethyst", want: ItemRef{Source: SourceOraxen, ID: "amethyst"}},
		{raw: "custom:thing", want: ItemRef{Source: SourceNative, ID: "custom:thing"}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseItemRef(tt.raw), tt.raw)
	}
}

func TestSourcesCheck(t *testing.T) {
	t.Parallel()
	s := DefaultSources()

	_, available, exists := s.Check("DIAMOND")
	assert.True(t, available)
	assert.True(t, exists)

	_, available, _ = s.Check("itemsadder:ruby")
	assert.False(t, available)

	s.Register(NewStaticSource(SourceItemsAdder, true, "ruby"))
	ref, available, exists := s.Check("itemsadder:ruby")
	assert.True(t, available)
	assert.True(t, exists)
	assert.Equal(t, "itemsadder:ruby", ref.String())

	_, _, exists = s.Check("itemsadder:sapphire")
	assert.False(t, exists)
}
