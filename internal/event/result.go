package event

import "time"

// Grant is the reward owed to one winner.
type Grant struct {
	Rank        int      `json:"rank"`
	Participant string   `json:"participant"`
	Type        string   `json:"type"`
	Item        string   `json:"item,omitempty"`
	Amount      int      `json:"amount,omitempty"`
	Commands    []string `json:"commands,omitempty"`
}

// Result is the record of one finished event.
type Result struct {
	RunID    string    `json:"run_id"`
	ID       string    `json:"id"`
	Category string    `json:"category"`
	Item     string    `json:"item"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	EndedAt  time.Time `json:"ended_at"`
	Total    int64     `json:"total"`
	Winners  []Winner  `json:"winners"`
	Grants   []Grant   `json:"grants,omitempty"`
}
