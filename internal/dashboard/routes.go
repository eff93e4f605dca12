package dashboard

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/zulandar/switchboard/internal/ledger"
	"github.com/zulandar/switchboard/internal/monitor"
)

// agentView is one agent currently in Transfers Only status.
type agentView struct {
	AgentID   int64     `json:"agent_id"`
	AgentName string    `json:"agent_name"`
	Since     time.Time `json:"since"`
	Duration  string    `json:"duration"`
}

// alertView is one raised duration alert.
type alertView struct {
	ID        string     `json:"id"`
	AgentID   int64      `json:"agent_id"`
	AgentName string     `json:"agent_name"`
	Duration  string     `json:"duration"`
	RaisedAt  time.Time  `json:"raised_at"`
	State     string     `json:"state"`
	AckedBy   string     `json:"acked_by,omitempty"`
	AckedAt   *time.Time `json:"acked_at,omitempty"`
}

// escalationView is one escalation request.
type escalationView struct {
	ID            string     `json:"id"`
	RequesterID   string     `json:"requester_id"`
	RequesterName string     `json:"requester_name"`
	Question      string     `json:"question"`
	State         string     `json:"state"`
	AcceptedBy    string     `json:"accepted_by,omitempty"`
	AcceptedAt    *time.Time `json:"accepted_at,omitempty"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty"`
	ThreadLink    string     `json:"thread_link,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// interactionView is one answered help request.
type interactionView struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	UserName  string    `json:"user_name"`
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	Feedback  string    `json:"feedback,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// historyView is one ledger interaction row.
type historyView struct {
	ID        string    `json:"id"`
	Platform  string    `json:"platform"`
	UserName  string    `json:"user_name"`
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	Feedback  string    `json:"feedback,omitempty"`
	Escalated bool      `json:"escalated"`
	CreatedAt time.Time `json:"created_at"`
}

// registerRoutes sets up all dashboard routes on the Gin router.
func registerRoutes(router *gin.Engine, opts StartOpts) {
	router.GET("/healthz", handleHealth())
	router.GET("/api/agents", handleAgents(opts))
	router.GET("/api/alerts", handleAlerts(opts))
	router.GET("/api/escalations", handleEscalations(opts))
	router.GET("/api/interactions", handleInteractions(opts))
	router.GET("/api/history", handleHistory(opts))
}

func handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func handleAgents(opts StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		episodes := opts.Monitor.Watching()
		out := make([]agentView, len(episodes))
		for i, ep := range episodes {
			out[i] = agentView{
				AgentID:   ep.AgentID,
				AgentName: ep.AgentName,
				Since:     ep.Since,
				Duration:  monitor.FormatDuration(ep.Elapsed),
			}
		}
		c.JSON(http.StatusOK, out)
	}
}

func handleAlerts(opts StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		alerts := opts.Monitor.Alerts()
		out := make([]alertView, len(alerts))
		for i, a := range alerts {
			v := alertView{
				ID:        a.ID,
				AgentID:   a.AgentID,
				AgentName: a.AgentName,
				Duration:  monitor.FormatDuration(a.Duration),
				RaisedAt:  a.RaisedAt,
				State:     string(a.State),
				AckedBy:   a.AckedBy,
			}
			if !a.AckedAt.IsZero() {
				t := a.AckedAt
				v.AckedAt = &t
			}
			out[i] = v
		}
		c.JSON(http.StatusOK, out)
	}
}

func handleEscalations(opts StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		escs := opts.Engine.Escalations()
		out := make([]escalationView, len(escs))
		for i, e := range escs {
			v := escalationView{
				ID:            e.ID,
				RequesterID:   e.RequesterID,
				RequesterName: e.RequesterName,
				Question:      e.Question,
				State:         e.State,
				AcceptedBy:    e.AcceptedByName,
				ThreadLink:    e.ThreadLink,
				CreatedAt:     e.CreatedAt,
			}
			if !e.AcceptedAt.IsZero() {
				t := e.AcceptedAt
				v.AcceptedAt = &t
			}
			if !e.ResolvedAt.IsZero() {
				t := e.ResolvedAt
				v.ResolvedAt = &t
			}
			out[i] = v
		}
		c.JSON(http.StatusOK, out)
	}
}

func handleInteractions(opts StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		ins := opts.Engine.Interactions()
		out := make([]interactionView, len(ins))
		for i, in := range ins {
			out[i] = interactionView{
				ID:        in.ID,
				UserID:    in.UserID,
				UserName:  in.UserName,
				Question:  in.Question,
				Answer:    in.Answer,
				Feedback:  in.Feedback,
				CreatedAt: in.CreatedAt,
			}
		}
		c.JSON(http.StatusOK, out)
	}
}

func handleHistory(opts StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		if opts.DB == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ledger not configured"})
			return
		}
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
		rows, err := ledger.RecentInteractions(opts.DB, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		out := make([]historyView, len(rows))
		for i, r := range rows {
			out[i] = historyView{
				ID:        r.ID,
				Platform:  r.Platform,
				UserName:  r.UserName,
				Question:  r.Question,
				Answer:    r.Answer,
				Feedback:  r.Feedback,
				Escalated: r.Escalated,
				CreatedAt: r.CreatedAt,
			}
		}
		c.JSON(http.StatusOK, out)
	}
}
