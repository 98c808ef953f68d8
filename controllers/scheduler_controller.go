package controllers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"trading_scheduler/middleware"
	"trading_scheduler/scheduler"
)

// JobScheduler is the part of the scheduler the HTTP surface needs
type JobScheduler interface {
	Status() scheduler.Status
	Jobs() []scheduler.JobStatus
	TriggerNow(id string) error
}

// SchedulerController exposes scheduler state and manual triggers
type SchedulerController struct {
	scheduler JobScheduler
	logger    *zap.Logger
}

// NewSchedulerController creates a new scheduler controller
func NewSchedulerController(s JobScheduler, logger *zap.Logger) *SchedulerController {
	return &SchedulerController{
		scheduler: s,
		logger:    logger.With(zap.String("component", "scheduler_controller")),
	}
}

// GetStatus returns the scheduler and market snapshot
// GET /api/v1/scheduler/status
func (sc *SchedulerController) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": sc.scheduler.Status()})
}

// ListJobs returns all registered jobs
// GET /api/v1/scheduler/jobs
func (sc *SchedulerController) ListJobs(c *gin.Context) {
	jobs := sc.scheduler.Jobs()
	c.JSON(http.StatusOK, gin.H{"data": jobs, "count": len(jobs)})
}

// TriggerJob runs a job immediately
// POST /api/v1/scheduler/jobs/:id/trigger
func (sc *SchedulerController) TriggerJob(c *gin.Context) {
	id := c.Param("id")

	err := sc.scheduler.TriggerNow(id)
	switch {
	case errors.Is(err, scheduler.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found", "job_id": id})
		return
	case errors.Is(err, scheduler.ErrJobRunning):
		c.JSON(http.StatusConflict, gin.H{"error": "Job is already running", "job_id": id})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	sc.logger.Info("job triggered manually",
		zap.String("job_id", id),
		zap.String("operator", middleware.OperatorFromContext(c)),
	)
	c.JSON(http.StatusAccepted, gin.H{"message": "Job triggered", "job_id": id})
}
