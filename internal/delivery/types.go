package delivery

import (
	"fmt"
	"sort"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"
)

// Mode selects how a category or item is resolved when an event starts.
type Mode string

const (
	ModeRandom Mode = "RANDOM"
	ModeFixed  Mode = "FIXED"
)

// ParseMode accepts any casing. Empty input defaults to RANDOM.
func ParseMode(raw string) (Mode, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "", string(ModeRandom):
		return ModeRandom, nil
	case string(ModeFixed):
		return ModeFixed, nil
	default:
		return "", fmt.Errorf("invalid mode %q (use RANDOM or FIXED)", raw)
	}
}

func (m *Mode) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	v, err := ParseMode(s)
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Selector is a RANDOM|FIXED choice with an optional fixed value.
type Selector struct {
	Mode  Mode   `yaml:"mode" json:"mode"`
	Value string `yaml:"value,omitempty" json:"value,omitempty"`
}

// Schedule holds the raw start/end expressions, e.g. "every day 10:00".
type Schedule struct {
	Start string `yaml:"start" json:"start"`
	End   string `yaml:"end" json:"end"`
}

type RewardType string

const (
	RewardCommand   RewardType = "command"
	RewardInventory RewardType = "inventory"
)

// RankReward overrides the base reward for a single rank.
type RankReward struct {
	Item     string   `yaml:"item,omitempty" json:"item,omitempty"`
	Amount   int      `yaml:"amount,omitempty" json:"amount,omitempty"`
	Commands []string `yaml:"commands,omitempty" json:"commands,omitempty"`
}

// Reward describes what winners receive. Execution belongs to the host runtime;
// deliveryd only carries the spec through to results and notifications.
type Reward struct {
	Type     RewardType         `yaml:"type" json:"type"`
	Item     string             `yaml:"item,omitempty" json:"item,omitempty"`
	Amount   int                `yaml:"amount,omitempty" json:"amount,omitempty"`
	Commands []string           `yaml:"commands,omitempty" json:"commands,omitempty"`
	Ranks    map[int]RankReward `yaml:"ranks,omitempty" json:"ranks,omitempty"`
}

// ForRank returns the reward for a 1-based rank, applying a rank override if present.
func (r Reward) ForRank(rank int) RankReward {
	base := RankReward{Item: r.Item, Amount: r.Amount, Commands: r.Commands}
	o, ok := r.Ranks[rank]
	if !ok {
		return base
	}
	if o.Item != "" {
		base.Item = o.Item
	}
	if o.Amount > 0 {
		base.Amount = o.Amount
	}
	if len(o.Commands) > 0 {
		base.Commands = o.Commands
	}
	return base
}

type Notification struct {
	OnStart bool   `yaml:"on_start" json:"on_start"`
	OnEnd   bool   `yaml:"on_end" json:"on_end"`
	Message string `yaml:"message,omitempty" json:"message,omitempty"`
}

const dateLayout = "2006-01-02"

// DateRange optionally restricts the calendar days on which an event may start.
// From and To are inclusive YYYY-MM-DD dates in the definition's timezone.
type DateRange struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	From    string `yaml:"from,omitempty" json:"from,omitempty"`
	To      string `yaml:"to,omitempty" json:"to,omitempty"`
}

// Bounds parses From/To in loc. An empty bound is open.
func (r DateRange) Bounds(loc *time.Location) (from, to time.Time, err error) {
	if loc == nil {
		loc = time.Local
	}
	if s := strings.TrimSpace(r.From); s != "" {
		from, err = time.ParseInLocation(dateLayout, s, loc)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("date_range.from: %w", err)
		}
	}
	if s := strings.TrimSpace(r.To); s != "" {
		to, err = time.ParseInLocation(dateLayout, s, loc)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("date_range.to: %w", err)
		}
	}
	if !from.IsZero() && !to.IsZero() && from.After(to) {
		return time.Time{}, time.Time{}, fmt.Errorf("date_range.from %s is after date_range.to %s", r.From, r.To)
	}
	return from, to, nil
}

// Contains reports whether t falls on an allowed day. A disabled range allows every day.
func (r DateRange) Contains(t time.Time, loc *time.Location) (bool, error) {
	if !r.Enabled {
		return true, nil
	}
	from, to, err := r.Bounds(loc)
	if err != nil {
		return false, err
	}
	if loc == nil {
		loc = time.Local
	}
	t = t.In(loc)
	if !from.IsZero() && t.Before(from) {
		return false, nil
	}
	if !to.IsZero() && !t.Before(to.AddDate(0, 0, 1)) {
		return false, nil
	}
	return true, nil
}

// Definition is the static, config-sourced description of a recurring delivery event.
type Definition struct {
	ID          string       `yaml:"-" json:"id"`
	Enabled     bool         `yaml:"enabled" json:"enabled"`
	Visible     bool         `yaml:"visible" json:"visible"`
	DisplayName string       `yaml:"display_name,omitempty" json:"display_name,omitempty"`
	Category    Selector     `yaml:"category" json:"category"`
	Item        Selector     `yaml:"item" json:"item"`
	Timezone    string       `yaml:"timezone,omitempty" json:"timezone,omitempty"`
	Schedule    Schedule     `yaml:"schedule" json:"schedule"`
	Winners     int          `yaml:"winners" json:"winners"`
	Reward      Reward       `yaml:"reward" json:"reward"`
	Notify      Notification `yaml:"notify" json:"notify"`
	DateRange   DateRange    `yaml:"date_range,omitempty" json:"date_range,omitempty"`
}

// Schedulable reports whether both schedule expressions are present.
func (d Definition) Schedulable() bool {
	return strings.TrimSpace(d.Schedule.Start) != "" && strings.TrimSpace(d.Schedule.End) != ""
}

// WinnerCount clamps the configured count to at least one.
func (d Definition) WinnerCount() int {
	if d.Winners < 1 {
		return 1
	}
	return d.Winners
}

// Name returns DisplayName, falling back to the identifier.
func (d Definition) Name() string {
	if s := strings.TrimSpace(d.DisplayName); s != "" {
		return s
	}
	return d.ID
}

// Location loads the definition timezone. Empty or invalid zones fall back to def
// (or time.Local when def is nil); the error reports the invalid case.
func (d Definition) Location(def *time.Location) (*time.Location, error) {
	if def == nil {
		def = time.Local
	}
	tz := strings.TrimSpace(d.Timezone)
	if tz == "" {
		return def, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return def, fmt.Errorf("invalid timezone %q: %w", tz, err)
	}
	return loc, nil
}

// Categories maps a category name to its ordered item list.
type Categories map[string][]string

// Names returns category names in sorted order.
func (c Categories) Names() []string {
	out := make([]string, 0, len(c))
	for k := range c {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
