package delivery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDeliveries = `
deliveries:
  daily_ore:
    enabled: true
    visible: true
    display_name: Daily Ore Rush
    category:
      mode: fixed
      value: ores
    item:
      mode: random
    timezone: Europe/Berlin
    schedule:
      start: every day 10:00
      end: every day 12:00
    winners: 3
    reward:
      type: inventory
      item: DIAMOND
      amount: 5
      ranks:
        1:
          amount: 10
    notify:
      on_start: true
      on_end: true
      message: "{delivery} started: bring {item}"
    date_range:
      enabled: true
      from: "2026-01-01"
      to: "2026-12-31"
  weekly_farm:
    enabled: false
    visible: false
    category:
      mode: RANDOM
    item:
      mode: FIXED
      value: itemsadder:golden_wheat
    schedule:
      start: every week saturday 18:00
      end: every week sunday 18:00
    winners: 1
    reward:
      type: command
      commands:
        - give {player} emerald 16
    notify:
      on_start: false
      on_end: true
`

func TestDefinitionsRoundTrip(t *testing.T) {
	t.Parallel()

	first, err := DecodeDefinitions([]byte(sampleDeliveries))
	require.NoError(t, err)
	require.Len(t, first, 2)

	out, err := EncodeDefinitions(first)
	require.NoError(t, err)

	second, err := DecodeDefinitions(out)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestDecodeDefinitionsNormalizes(t *testing.T) {
	t.Parallel()

	defs, err := DecodeDefinitions([]byte(sampleDeliveries))
	require.NoError(t, err)

	d := defs["daily_ore"]
	assert.Equal(t, "daily_ore", d.ID)
	assert.Equal(t, ModeFixed, d.Category.Mode)
	assert.Equal(t, ModeRandom, d.Item.Mode)
	assert.Equal(t, 3, d.WinnerCount())
	assert.Equal(t, "Daily Ore Rush", d.Name())
	assert.True(t, d.Schedulable())

	w := defs["weekly_farm"]
	assert.Equal(t, "weekly_farm", w.Name())
	assert.Equal(t, "itemsadder:golden_wheat", w.Item.Value)
}

func TestDecodeDefinitionsRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	_, err := DecodeDefinitions([]byte("deliveries:\n  x:\n    enabeld: true\n"))
	require.Error(t, err)
}

func TestDecodeDefinitionsRejectsBadMode(t *testing.T) {
	t.Parallel()

	_, err := DecodeDefinitions([]byte("deliveries:\n  x:\n    category:\n      mode: sometimes\n"))
	require.Error(t, err)
}

func TestCategoriesRoundTrip(t *testing.T) {
	t.Parallel()

	in := Categories{"ores": {"DIAMOND", "EMERALD"}, "crops": {"WHEAT"}}
	b, err := EncodeCategories(in)
	require.NoError(t, err)
	got, err := DecodeCategories(b)
	require.NoError(t, err)
	assert.Equal(t, in, got)
	assert.Equal(t, []string{"crops", "ores"}, got.Names())
}

func TestRewardForRank(t *testing.T) {
	t.Parallel()

	r := Reward{Type: RewardInventory, Item: "DIAMOND", Amount: 5, Ranks: map[int]RankReward{1: {Amount: 10}}}
	assert.Equal(t, RankReward{Item: "DIAMOND", Amount: 10}, r.ForRank(1))
	assert.Equal(t, RankReward{Item: "DIAMOND", Amount: 5}, r.ForRank(2))
}

func TestDateRangeContains(t *testing.T) {
	t.Parallel()

	loc := time.UTC
	r := DateRange{Enabled: true, From: "2026-03-01", To: "2026-03-31"}

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{name: "before", at: time.Date(2026, 2, 28, 23, 59, 0, 0, loc), want: false},
		{name: "first day", at: time.Date(2026, 3, 1, 0, 0, 0, 0, loc), want: true},
		{name: "last day evening", at: time.Date(2026, 3, 31, 23, 0, 0, 0, loc), want: true},
		{name: "after", at: time.Date(2026, 4, 1, 0, 0, 0, 0, loc), want: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Contains(tt.at, loc)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	ok, err := DateRange{}.Contains(time.Now(), loc)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = DateRange{Enabled: true, From: "2026-05-01", To: "2026-04-01"}.Contains(time.Now(), loc)
	assert.Error(t, err)
}
