package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/feedcourier/feedcourier/app/config"
	"github.com/feedcourier/feedcourier/app/database"
	"github.com/feedcourier/feedcourier/app/tasks"
)

func NewHandler(loader *config.Loader, feedRepo database.FeedRepository,
	schedRepo database.ScheduleRepository, deliveries database.DeliveryRepository,
	service IngestServiceInterface, worker DeliveryWorkerInterface,
	scheduler tasks.TaskSchedulerInterface) *Handler {
	return &Handler{
		loader:     loader,
		feedRepo:   feedRepo,
		schedRepo:  schedRepo,
		deliveries: deliveries,
		service:    service,
		worker:     worker,
		scheduler:  scheduler,
	}
}

func (h *Handler) GetHealth(c *gin.Context) {
	health := map[string]interface{}{
		"timestamp": time.Now().In(time.Local).Format(time.RFC3339),
	}

	if feedCount, err := h.feedRepo.GetFeedCount(); err == nil {
		health["feeds"] = feedCount
	}

	health["loaded_configurations"] = h.loader.GetConfigCount()

	c.JSON(http.StatusOK, health)
}

func (h *Handler) GetStats(c *gin.Context) {
	stats := map[string]interface{}{
		"loaded_configurations": h.loader.GetConfigCount(),
	}

	if feedCount, err := h.feedRepo.GetFeedCount(); err == nil {
		stats["feeds"] = feedCount
	}

	schedules, err := h.schedRepo.GetEnabledSchedules()
	if err != nil {
		slog.Error("Database error", "operation", "get_schedules", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	stats["enabled_schedules"] = len(schedules)

	deliveryTotals := make(map[string]int)
	for _, schedule := range schedules {
		counts, err := h.deliveries.CountByStatus(schedule.ID)
		if err != nil {
			continue
		}
		for status, count := range counts {
			deliveryTotals[status] += count
		}
	}
	stats["deliveries"] = deliveryTotals

	c.JSON(http.StatusOK, stats)
}

func (h *Handler) APIListFeeds(c *gin.Context) {
	configs := h.loader.GetConfigs()

	feeds := make([]map[string]interface{}, 0, len(configs))

	for _, feedConfig := range configs {
		feedInfo := map[string]interface{}{
			"name":             feedConfig.Name,
			"url":              feedConfig.URL,
			"enabled":          feedConfig.Settings.Enabled,
			"refresh_interval": (time.Duration(feedConfig.Settings.RefreshInterval) * time.Second).String(),
			"schedules":        len(feedConfig.Schedules),
		}

		if feed, err := h.feedRepo.GetFeed(feedConfig.Name); err == nil && feed != nil {
			feedInfo["detected_format"] = feed.DetectedFormat
			feedInfo["last_fetched_at"] = feed.LastFetchedAt
			feedInfo["next_fetch_at"] = feed.NextFetchAt
			feedInfo["failure_count"] = feed.FailureCount
		}

		feeds = append(feeds, feedInfo)
	}

	c.JSON(http.StatusOK, map[string]interface{}{
		"feeds": feeds,
		"total": len(feeds),
	})
}

func (h *Handler) APIProcessFeed(c *gin.Context) {
	name := c.Param("name")
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing feed name parameter"})
		return
	}

	if _, err := h.loader.GetConfig(name); err != nil {
		slog.Error("Feed configuration not found", "feed", name, "error", err)
		c.JSON(http.StatusNotFound, gin.H{"error": "Feed configuration not found"})
		return
	}

	stats, err := h.service.ProcessFeed(c.Request.Context(), name)
	if err != nil {
		slog.Error("Feed processing failed", "feed", name, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Feed processing failed",
			"details": err.Error(),
			"stats":   stats,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"stats":   stats,
	})
}

func (h *Handler) APIProcessAllFeeds(c *gin.Context) {
	configs := h.loader.GetEnabledConfigs()

	enqueued := make([]gin.H, 0, len(configs))
	for name := range configs {
		task := tasks.NewPollFeedTask(name, h.service, h.feedRepo, h.schedRepo, h.scheduler, h.worker)
		if err := h.scheduler.EnqueueTask(task); err != nil {
			slog.Error("Error enqueueing poll task", "feed", name, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "Failed to enqueue poll task",
				"details": err.Error(),
			})
			return
		}
		enqueued = append(enqueued, gin.H{"id": task.GetID(), "feed": name})
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"tasks":   enqueued,
	})
}

func (h *Handler) APIRunSchedule(c *gin.Context) {
	name := c.Param("name")
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing schedule name parameter"})
		return
	}

	schedule, err := h.schedRepo.GetScheduleByName(name)
	if err != nil {
		slog.Error("Database error", "operation", "get_schedule", "schedule", name, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	if schedule == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Schedule not found"})
		return
	}

	result, err := h.worker.RunSchedule(c.Request.Context(), schedule.ID)
	if err != nil {
		slog.Error("Schedule run failed", "schedule", name, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Schedule run failed",
			"details": err.Error(),
			"result":  result,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"result":  result,
	})
}

func (h *Handler) APIScheduleDiagnostics(c *gin.Context) {
	name := c.Param("name")
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing schedule name parameter"})
		return
	}

	schedule, err := h.schedRepo.GetScheduleByName(name)
	if err != nil {
		slog.Error("Database error", "operation", "get_schedule", "schedule", name, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	if schedule == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Schedule not found"})
		return
	}

	diag, err := h.worker.Diagnostics(c.Request.Context(), schedule.ID)
	if err != nil {
		slog.Error("Diagnostics failed", "schedule", name, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Diagnostics failed", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, diag)
}
