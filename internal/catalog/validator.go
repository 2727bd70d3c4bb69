package catalog

import (
	"fmt"
	"strings"

	"deliveryd/internal/delivery"
	"deliveryd/internal/schedule"
	"deliveryd/internal/selection"
)

// Validate checks every definition and category of snap. sources may be nil,
// in which case item references are not checked.
func Validate(snap *Snapshot, sources *selection.Sources) []ValidationError {
	if snap == nil {
		return []ValidationError{{Source: delivery.DeliveriesFile, Message: "no catalog loaded", Severity: SeverityCritical}}
	}
	v := &validator{snap: snap, sources: sources, resolver: selection.NewResolver(snap.Categories, nil)}
	for _, id := range delivery.SortedIDs(snap.Definitions) {
		v.definition(snap.Definitions[id])
	}
	v.categories()
	sortFindings(v.out)
	return v.out
}

type validator struct {
	snap     *Snapshot
	sources  *selection.Sources
	resolver *selection.Resolver
	out      []ValidationError
}

func (v *validator) add(source, path string, sev Severity, format string, args ...any) {
	v.out = append(v.out, ValidationError{
		Source:   source,
		Path:     path,
		Message:  fmt.Sprintf(format, args...),
		Severity: sev,
	})
}

func (v *validator) definition(d delivery.Definition) {
	p := "deliveries." + d.ID
	src := delivery.DeliveriesFile

	switch d.Category.Mode {
	case delivery.ModeFixed:
		if strings.TrimSpace(d.Category.Value) == "" {
			v.add(src, p+".category.value", SeverityError, "fixed category mode requires a value")
		} else if _, err := v.resolver.ResolveCategory(delivery.ModeFixed, d.Category.Value); err != nil {
			v.add(src, p+".category.value", SeverityError, "category %q does not exist", d.Category.Value)
		}
	default:
		if len(v.snap.Categories) == 0 {
			v.add(delivery.CategoriesFile, p+".category", SeverityWarning, "random category with no categories configured")
		}
	}

	if d.Item.Mode == delivery.ModeFixed {
		if strings.TrimSpace(d.Item.Value) == "" {
			v.add(src, p+".item.value", SeverityError, "fixed item mode requires a value")
		} else {
			v.itemRef(src, p+".item.value", d.Item.Value)
		}
	}

	v.expression(src, p+".schedule.start", "start", d.Schedule.Start)
	v.expression(src, p+".schedule.end", "end", d.Schedule.End)

	if d.Winners < 1 {
		v.add(src, p+".winners", SeverityError, "winner count %d is below 1; 1 will be used", d.Winners)
	}

	loc, err := d.Location(nil)
	if err != nil {
		v.add(src, p+".timezone", SeverityError, "%v", err)
	}

	switch d.Reward.Type {
	case "", delivery.RewardCommand:
	case delivery.RewardInventory:
		if strings.TrimSpace(d.Reward.Item) == "" {
			v.add(src, p+".reward.item", SeverityError, "inventory reward requires an item")
		}
	default:
		v.add(src, p+".reward.type", SeverityWarning, "unknown reward type %q", d.Reward.Type)
	}

	if d.DateRange.Enabled {
		if _, _, err := d.DateRange.Bounds(loc); err != nil {
			v.add(src, p+".date_range", SeverityError, "%v", err)
		}
	}
}

func (v *validator) expression(src, path, which, raw string) {
	if strings.TrimSpace(raw) == "" {
		v.add(src, path, SeverityCritical, "schedule %s is empty", which)
		return
	}
	if !schedule.Valid(raw) {
		v.add(src, path, SeverityError, "unparseable schedule %s expression %q", which, raw)
	}
}

func (v *validator) itemRef(src, path, raw string) {
	if v.sources == nil {
		return
	}
	ref, available, _ := v.sources.Check(raw)
	if !available {
		v.add(src, path, SeverityWarning, "item source %q is not available for %q", ref.Source, raw)
	}
}

func (v *validator) categories() {
	for _, name := range v.snap.Categories.Names() {
		p := "categories." + name
		items := v.snap.Categories[name]
		if len(items) == 0 {
			v.add(delivery.CategoriesFile, p, SeverityWarning, "category %q has no items", name)
			continue
		}
		for i, it := range items {
			v.itemRef(delivery.CategoriesFile, fmt.Sprintf("%s[%d]", p, i), it)
		}
	}
}
