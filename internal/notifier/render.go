package notifier

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"deliveryd/internal/delivery"
	"deliveryd/internal/event"
)

const (
	defaultStartText = "{delivery} has started: deliver {item} ({category}) before {end}"
	defaultEndText   = "{delivery} has ended with {total} deliveries. Winners: {winners}"
	timeLayout       = "2006-01-02 15:04 MST"
)

// RenderStart fills the definition's message template for a start.
// Placeholders: {delivery} {id} {category} {item} {start} {end} {winners} {total}.
func RenderStart(def delivery.Definition, ev event.Snapshot) string {
	tpl := strings.TrimSpace(def.Notify.Message)
	if tpl == "" {
		tpl = defaultStartText
	}
	return render(tpl, def, ev.Category, ev.Item, ev.Start, ev.End, ev.Timezone, "-", 0)
}

// RenderEnd fills the template for an end. The definition message is only
// used for starts; ends always use the built-in summary.
func RenderEnd(def delivery.Definition, res event.Result) string {
	return render(defaultEndText, def, res.Category, res.Item, res.Start, res.End, "", winnersText(res.Winners), res.Total)
}

func render(tpl string, def delivery.Definition, category, item string, start, end time.Time, tz, winners string, total int64) string {
	if loc, err := time.LoadLocation(tz); err == nil && tz != "" {
		start, end = start.In(loc), end.In(loc)
	}
	r := strings.NewReplacer(
		"{delivery}", def.Name(),
		"{id}", def.ID,
		"{category}", category,
		"{item}", item,
		"{start}", start.Format(timeLayout),
		"{end}", end.Format(timeLayout),
		"{winners}", winners,
		"{total}", strconv.FormatInt(total, 10),
	)
	return r.Replace(tpl)
}

func winnersText(ws []event.Winner) string {
	if len(ws) == 0 {
		return "none"
	}
	parts := make([]string, 0, len(ws))
	for _, w := range ws {
		parts = append(parts, fmt.Sprintf("#%d %s (%d)", w.Rank, w.Name, w.Count))
	}
	return strings.Join(parts, ", ")
}
