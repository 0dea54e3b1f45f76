package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/shorts-relay/internal/agent/uploader"
	"github.com/shorts-relay/internal/models"
	"github.com/shorts-relay/internal/slots"
	"github.com/shorts-relay/internal/storage"
	"github.com/shorts-relay/pkg/logger"
)

// Pipeline runs one pipeline pass
type Pipeline interface {
	ProcessNext(ctx context.Context, mappingID *uint) uploader.Outcome
}

// Handler serves the control endpoints
type Handler struct {
	repo     storage.Repository
	pipeline Pipeline
	quota    *slots.Quota
	now      func() time.Time
	log      *logger.Logger
}

// NewHandler creates a handler
func NewHandler(repo storage.Repository, pipeline Pipeline, log *logger.Logger) *Handler {
	return &Handler{
		repo:     repo,
		pipeline: pipeline,
		quota:    slots.NewQuota(repo),
		now:      time.Now,
		log:      log,
	}
}

type message struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// StatusResponse is the body of GET /status
type StatusResponse struct {
	IsRunning       bool                 `json:"is_running"`
	CurrentStatus   string               `json:"current_status"`
	LastRunAt       *time.Time           `json:"last_run_at"`
	LeaseExpiresAt  *time.Time           `json:"lease_expires_at"`
	UploadsToday    int                  `json:"uploads_today"`
	LocalDate       string               `json:"local_date"`
	GlobalRemaining int                  `json:"global_remaining"`
	Mappings        []MappingQuota       `json:"mappings"`
	GlobalConfig    *models.GlobalConfig `json:"global_config"`
}

// MappingQuota is the remaining daily quota of one active mapping
type MappingQuota struct {
	MappingID uint   `json:"mapping_id"`
	Name      string `json:"name"`
	Remaining int    `json:"remaining"`
}

// Health handles GET /health
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// Trigger handles POST /trigger, running one pipeline pass synchronously
func (h *Handler) Trigger(c echo.Context) error {
	var mappingID *uint
	if raw := c.QueryParam("mapping_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 32)
		if err != nil || id == 0 {
			return c.JSON(http.StatusBadRequest, message{Message: "invalid mapping_id"})
		}
		v := uint(id)
		mappingID = &v
	}

	// A client disconnect must not abort an upload halfway
	out := h.pipeline.ProcessNext(context.WithoutCancel(c.Request().Context()), mappingID)
	if out.Reason == uploader.ReasonBusy {
		return c.JSON(http.StatusConflict, message{Message: "already running"})
	}
	return c.JSON(http.StatusOK, out)
}

// Status handles GET /status
func (h *Handler) Status(c echo.Context) error {
	ctx := c.Request().Context()

	state, err := h.repo.GetRunState(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to read run state")
		return c.JSON(http.StatusInternalServerError, message{Message: "failed to read run state"})
	}
	cfg, err := h.repo.GetGlobalConfig(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to read global config")
		return c.JSON(http.StatusInternalServerError, message{Message: "failed to read global config"})
	}

	now := h.now()
	tz, _ := slots.SanitizeZone(cfg.SchedulerTimezone)
	local, err := slots.ResolveTimeInZone(now, tz)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, message{Message: err.Error()})
	}
	effective := *cfg
	effective.SchedulerTimezone = tz
	remaining, err := h.quota.GlobalRemaining(ctx, &effective, now)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to compute quota")
		return c.JSON(http.StatusInternalServerError, message{Message: "failed to compute quota"})
	}

	mappings, err := h.repo.ListMappings(ctx, true)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list mappings")
		return c.JSON(http.StatusInternalServerError, message{Message: "failed to list mappings"})
	}
	quotas := make([]MappingQuota, 0, len(mappings))
	for _, m := range mappings {
		left, err := h.quota.MappingRemaining(ctx, m, &effective, now)
		if err != nil {
			h.log.WithMappingID(m.ID).Warn().Err(err).Msg("Failed to compute mapping quota")
			continue
		}
		quotas = append(quotas, MappingQuota{MappingID: m.ID, Name: m.Name, Remaining: left})
	}

	return c.JSON(http.StatusOK, StatusResponse{
		IsRunning:       state.IsRunning,
		CurrentStatus:   state.CurrentStatus,
		LastRunAt:       state.LastRunAt,
		LeaseExpiresAt:  state.LeaseExpiresAt,
		UploadsToday:    state.UploadsOn(local.Date),
		LocalDate:       local.Date,
		GlobalRemaining: remaining,
		Mappings:        quotas,
		GlobalConfig:    cfg,
	})
}
