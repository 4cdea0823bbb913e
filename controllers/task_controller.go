package controllers

import (
	"errors"
	"net/http"

	"marketsync/scheduler"

	"github.com/gin-gonic/gin"
)

// TaskController runs jobs on demand
type TaskController struct {
	scheduler Scheduler
}

// NewTaskController creates a new task controller
func NewTaskController(sched Scheduler) *TaskController {
	return &TaskController{scheduler: sched}
}

// RunTask runs the named job now and waits for it to finish
// POST /api/v1/tasks/:name/run
func (tc *TaskController) RunTask(c *gin.Context) {
	name := c.Param("name")
	if _, err := scheduler.ParseJobKind(name); err != nil {
		if errors.Is(err, scheduler.ErrUnknownTask) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	res := tc.scheduler.RunTaskNow(c.Request.Context(), name)
	if !res.Success {
		c.JSON(http.StatusInternalServerError, res)
		return
	}
	c.JSON(http.StatusOK, res)
}
