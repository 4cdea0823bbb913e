package controllers

import (
	"context"
	"net/http"
	"time"

	"marketsync/scheduler"
	"marketsync/services/syncer"

	"github.com/gin-gonic/gin"
)

// Pinger checks store connectivity
type Pinger interface {
	Ping(ctx context.Context) error
}

// StatusReader reports ledger state
type StatusReader interface {
	GetSyncStatus(ctx context.Context) syncer.Status
}

// Scheduler is the engine surface exposed over HTTP
type Scheduler interface {
	RunTaskNow(ctx context.Context, name string) scheduler.RunResult
	NextRuns() []scheduler.NextRun
	Running() bool
}

// StatusController serves probes and read-only status
type StatusController struct {
	store     Pinger
	status    StatusReader
	scheduler Scheduler
}

// NewStatusController creates a new status controller
func NewStatusController(store Pinger, status StatusReader, sched Scheduler) *StatusController {
	return &StatusController{store: store, status: status, scheduler: sched}
}

// Health is the liveness probe
// GET /health
func (sc *StatusController) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Ready checks the database connection
// GET /ready
func (sc *StatusController) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := sc.store.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "not_ready",
			"message": "Database ping failed",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// GetSyncStatus returns the latest ledger entry per data type and row counts
// GET /api/v1/sync/status
func (sc *StatusController) GetSyncStatus(c *gin.Context) {
	status := sc.status.GetSyncStatus(c.Request.Context())
	code := http.StatusOK
	if !status.Success {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}

// GetNextRuns lists the next fire time of every job
// GET /api/v1/scheduler/next-runs
func (sc *StatusController) GetNextRuns(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"running": sc.scheduler.Running(),
		"data":    sc.scheduler.NextRuns(),
	})
}
