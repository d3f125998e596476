package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"sitegen/internal/metrics"
	"sitegen/internal/model"
	"sitegen/internal/service"
	"sitegen/internal/utils"
	"sitegen/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// SiteGenerator is what the backend endpoints need from the service layer.
type SiteGenerator interface {
	Generate(ctx context.Context, req model.BuildRequest) (*model.GenerateResponse, error)
	StreamSite(ctx context.Context, req model.BuildRequest) (<-chan model.StreamFrame, <-chan error)
	Refine(ctx context.Context, req model.RefineRequest) (*model.RefineResponse, error)
}

// SiteHandler serves the generation backend protocol.
type SiteHandler struct {
	sites     SiteGenerator
	heartbeat time.Duration
}

func NewSiteHandler(sites SiteGenerator, heartbeat time.Duration) *SiteHandler {
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	return &SiteHandler{sites: sites, heartbeat: heartbeat}
}

func (h *SiteHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "message": "Site generator API is running"})
}

func (h *SiteHandler) Generate(c *gin.Context) {
	var req model.BuildRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, "/generate", http.StatusBadRequest, err)
		return
	}
	if _, err := req.Normalize(); err != nil {
		h.fail(c, "/generate", http.StatusBadRequest, err)
		return
	}

	resp, err := h.sites.Generate(c.Request.Context(), req)
	if err != nil {
		h.fail(c, "/generate", serviceStatus(err), err)
		return
	}
	countRequest("/generate", http.StatusOK)
	c.JSON(http.StatusOK, resp)
}

// GenerateStream emits `data: {"chunk": ...}` frames followed by a single
// `data: {"done": true}` frame. A failure after the first byte ends the
// stream without the done frame.
func (h *SiteHandler) GenerateStream(c *gin.Context) {
	var req model.BuildRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, "/generate/stream", http.StatusBadRequest, err)
		return
	}
	if _, err := req.Normalize(); err != nil {
		h.fail(c, "/generate/stream", http.StatusBadRequest, err)
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	sse := utils.NewSSEWriter(c.Writer)
	c.Status(http.StatusOK)
	countRequest("/generate/stream", http.StatusOK)

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	log := logger.WithFields(logrus.Fields{"endpoint": "/generate/stream", "style": req.Style})
	frames, errs := h.sites.StreamSite(ctx, req)
	for {
		select {
		case frame, ok := <-frames:
			if !ok {
				if err := <-errs; err != nil {
					log.WithError(err).Error("stream aborted")
				}
				return
			}
			if err := sse.WriteJSON("", frame); err != nil {
				log.WithError(err).Warn("client went away")
				return
			}
		case <-heartbeat.C:
			if err := sse.Comment("ping"); err != nil {
				log.WithError(err).Warn("heartbeat failed")
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (h *SiteHandler) Refine(c *gin.Context) {
	var req model.RefineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, "/refine", http.StatusBadRequest, err)
		return
	}
	if err := req.Validate(); err != nil {
		h.fail(c, "/refine", http.StatusBadRequest, err)
		return
	}

	resp, err := h.sites.Refine(c.Request.Context(), req)
	if err != nil {
		h.fail(c, "/refine", serviceStatus(err), err)
		return
	}
	countRequest("/refine", http.StatusOK)
	c.JSON(http.StatusOK, resp)
}

func (h *SiteHandler) fail(c *gin.Context, endpoint string, status int, err error) {
	countRequest(endpoint, status)
	if status >= http.StatusInternalServerError {
		logger.WithFields(logrus.Fields{"endpoint": endpoint}).WithError(err).Error("request failed")
	}
	c.JSON(status, model.ErrorResponse{Error: err.Error(), Code: status})
}

func serviceStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func countRequest(endpoint string, status int) {
	metrics.BackendRequests.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
}
