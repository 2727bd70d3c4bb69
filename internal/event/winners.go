package event

import "sort"

// Standing is one participant's running total.
type Standing struct {
	Participant string `json:"participant"`
	Count       int64  `json:"count"`
	First       uint64 `json:"first"` // order of first delivery, 1-based
}

// Winner is a ranked participant.
type Winner struct {
	Participant string `json:"participant"`
	Name        string `json:"name"`
	Count       int64  `json:"count"`
	Rank        int    `json:"rank"`
}

// Rank orders standings by count descending, breaking ties by earliest first
// delivery and then participant key, and returns the top k with ranks 1..k.
// Participants without deliveries never win.
func Rank(standings []Standing, k int) []Winner {
	if k <= 0 {
		return nil
	}
	s := make([]Standing, 0, len(standings))
	for _, st := range standings {
		if st.Count > 0 {
			s = append(s, st)
		}
	}
	sort.SliceStable(s, func(i, j int) bool {
		if s[i].Count != s[j].Count {
			return s[i].Count > s[j].Count
		}
		if s[i].First != s[j].First {
			return s[i].First < s[j].First
		}
		return s[i].Participant < s[j].Participant
	})
	if len(s) > k {
		s = s[:k]
	}
	out := make([]Winner, len(s))
	for i, st := range s {
		out[i] = Winner{Participant: st.Participant, Name: st.Participant, Count: st.Count, Rank: i + 1}
	}
	return out
}
