package httpapi

import (
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"deliveryd/internal/delivery"
	"deliveryd/internal/event"
	"deliveryd/internal/lifecycle"
	"deliveryd/internal/notifier"
	"deliveryd/internal/runtime/supervisor"
	"deliveryd/internal/task/engine"
	logx "deliveryd/pkg/logx"
)

// RecordRequest is the body of POST /events/:id/deliveries.
type RecordRequest struct {
	Participant string `json:"participant" binding:"required"`
	Amount      int64  `json:"amount" binding:"required,gt=0"`
}

// PatchRequest is the body of PATCH /events/:id. Omitted fields are untouched.
type PatchRequest struct {
	EndTime     *time.Time `json:"end_time,omitempty"`
	WinnerCount *int       `json:"winner_count,omitempty"`
}

// EventView is the JSON form of an active event.
type EventView struct {
	event.Snapshot
	Total   int64          `json:"total"`
	Winners []event.Winner `json:"winners"`
}

func (s *Server) view(ev *event.Active) EventView {
	k := 1
	if def, ok := s.deps.Catalog.Current().Definitions[ev.ID()]; ok {
		k = def.WinnerCount()
	}
	return EventView{
		Snapshot: ev.Snapshot(),
		Total:    ev.TotalDeliveries(),
		Winners:  ev.Winners(ev.WinnerCount(k)),
	}
}

// handleHealth fails once a supervised goroutine has returned an error.
func (s *Server) handleHealth(c *gin.Context) {
	if s.deps.Supervisor != nil {
		if first := s.deps.Supervisor.Snapshot().FirstError; first != "" {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "failing", "error": first})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// RuntimeView is the body of GET /runtime. Absent components are null.
type RuntimeView struct {
	Engine     *engine.Snapshot     `json:"engine"`
	Supervisor *supervisor.Snapshot `json:"supervisor"`
}

func (s *Server) handleRuntime(c *gin.Context) {
	var out RuntimeView
	if s.deps.Engine != nil {
		snap := s.deps.Engine.Snapshot()
		out.Engine = &snap
	}
	if s.deps.Supervisor != nil {
		snap := s.deps.Supervisor.Snapshot()
		out.Supervisor = &snap
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleListDeliveries(c *gin.Context) {
	all := c.Query("all") == "true"
	snap := s.deps.Catalog.Current()
	out := make([]delivery.Definition, 0, len(snap.Definitions))
	for _, id := range delivery.SortedIDs(snap.Definitions) {
		d := snap.Definitions[id]
		if !d.Visible && !all {
			continue
		}
		out = append(out, d)
	}
	c.JSON(http.StatusOK, gin.H{"deliveries": out, "loaded_at": snap.LoadedAt})
}

func (s *Server) handleListEvents(c *gin.Context) {
	evs := s.deps.Lifecycle.ActiveEvents()
	out := make([]EventView, 0, len(evs))
	for _, ev := range evs {
		out = append(out, s.view(ev))
	}
	c.JSON(http.StatusOK, gin.H{"events": out})
}

func (s *Server) handleGetEvent(c *gin.Context) {
	ev, ok := s.deps.Lifecycle.ActiveEvent(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": lifecycle.ErrNotActive.Error()})
		return
	}
	c.JSON(http.StatusOK, s.view(ev))
}

func (s *Server) handleStartEvent(c *gin.Context) {
	force, _ := strconv.ParseBool(c.DefaultQuery("force", "false"))
	ev, err := s.deps.Lifecycle.StartEvent(c.Param("id"), force)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, s.view(ev))
}

func (s *Server) handleEndEvent(c *gin.Context) {
	id := c.Param("id")
	if _, ok := s.deps.Lifecycle.ActiveEvent(id); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": lifecycle.ErrNotActive.Error()})
		return
	}
	winners := s.deps.Lifecycle.EndEvent(id)
	if winners == nil {
		winners = []event.Winner{}
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "winners": winners})
}

func (s *Server) handleRecordDelivery(c *gin.Context) {
	var req RecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	id := c.Param("id")
	if !s.deps.Lifecycle.RecordDelivery(req.Participant, id, req.Amount) {
		c.JSON(http.StatusConflict, gin.H{"error": "delivery not accepted"})
		return
	}
	ev, ok := s.deps.Lifecycle.ActiveEvent(id)
	if !ok {
		c.JSON(http.StatusAccepted, gin.H{"id": id})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "participant": req.Participant, "count": ev.Deliveries(req.Participant)})
}

func (s *Server) handlePatchEvent(c *gin.Context) {
	var req PatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	id := c.Param("id")
	if req.EndTime != nil {
		if err := s.deps.Lifecycle.SetEndTime(id, *req.EndTime); err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
	}
	if req.WinnerCount != nil {
		if err := s.deps.Lifecycle.SetWinnerCount(id, *req.WinnerCount); err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
	}
	ev, ok := s.deps.Lifecycle.ActiveEvent(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": lifecycle.ErrNotActive.Error()})
		return
	}
	c.JSON(http.StatusOK, s.view(ev))
}

func (s *Server) handleListSchedules(c *gin.Context) {
	entries := s.deps.Schedules.Snapshot()
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	c.JSON(http.StatusOK, gin.H{"schedules": entries})
}

func (s *Server) handleListResults(c *gin.Context) {
	if s.deps.Results == nil {
		c.JSON(http.StatusOK, gin.H{"results": []event.Result{}})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	res, err := s.deps.Results.RecentResults(c.Request.Context(), c.Query("id"), limit)
	if err != nil {
		s.log.Warn("results query failed", logx.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "results unavailable"})
		return
	}
	if res == nil {
		res = []event.Result{}
	}
	c.JSON(http.StatusOK, gin.H{"results": res})
}

func (s *Server) handleListNotifications(c *gin.Context) {
	items := []notifier.HistoryItem{}
	if s.deps.Notifications != nil {
		if h := s.deps.Notifications.History(); h != nil {
			items = h
		}
	}
	if kind := c.Query("kind"); kind != "" {
		kept := items[:0:0]
		for _, it := range items {
			if string(it.Kind) == kind {
				kept = append(kept, it)
			}
		}
		items = kept
	}
	c.JSON(http.StatusOK, gin.H{"notifications": items})
}

func (s *Server) handleReload(c *gin.Context) {
	if s.deps.Reload == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "reload not configured"})
		return
	}
	res := s.deps.Reload(c.Request.Context())
	status := http.StatusOK
	if !res.Success {
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, res)
}

// statusFor maps lifecycle errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, lifecycle.ErrUnknownDelivery), errors.Is(err, lifecycle.ErrNotActive):
		return http.StatusNotFound
	case errors.Is(err, lifecycle.ErrAlreadyActive), errors.Is(err, lifecycle.ErrDisabled),
		errors.Is(err, lifecycle.ErrOutsideDateRange):
		return http.StatusConflict
	case errors.Is(err, lifecycle.ErrNoItemsAvailable):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
