package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"sitegen/internal/model"
	"sitegen/internal/storage"
	"sitegen/internal/utils"
	"sitegen/internal/workspace"
	"sitegen/pkg/logger"

	"github.com/gin-gonic/gin"
)

// previewCSP keeps exported pages from reaching the embedding origin.
const previewCSP = "sandbox allow-scripts"

// WorkspaceHandler exposes a Supervisor and its export store over HTTP.
type WorkspaceHandler struct {
	sv          *workspace.Supervisor
	store       storage.Storage
	defaultName string
	heartbeat   time.Duration
}

func NewWorkspaceHandler(sv *workspace.Supervisor, store storage.Storage, defaultName string, heartbeat time.Duration) *WorkspaceHandler {
	if defaultName == "" {
		defaultName = "generated-site.html"
	}
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	return &WorkspaceHandler{sv: sv, store: store, defaultName: defaultName, heartbeat: heartbeat}
}

func (h *WorkspaceHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.sv.Snapshot())
}

// StartGeneration answers 202 as soon as the attempt is admitted; progress is
// observed through Status or Events.
func (h *WorkspaceHandler) StartGeneration(c *gin.Context) {
	var req model.BuildRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}

	// The attempt outlives this request.
	handle, err := h.sv.StartGeneration(context.WithoutCancel(c.Request.Context()), req)
	if err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"seq": handle.Seq(), "state": handle.State()})
}

func (h *WorkspaceHandler) Refine(c *gin.Context) {
	var req model.WorkspaceRefineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}

	doc, err := h.sv.StartRefine(context.WithoutCancel(c.Request.Context()), req.Instructions)
	if err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (h *WorkspaceHandler) Cancel(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"cancelled": h.sv.CancelActive()})
}

// Events streams a snapshot after every workspace change until the client
// disconnects.
func (h *WorkspaceHandler) Events(c *gin.Context) {
	updates, unsubscribe := h.sv.Subscribe()
	defer unsubscribe()

	sse := utils.NewSSEWriter(c.Writer)
	c.Status(http.StatusOK)

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case snap, ok := <-updates:
			if !ok {
				return
			}
			if err := sse.WriteJSON("snapshot", snap); err != nil {
				return
			}
		case <-heartbeat.C:
			if err := sse.Comment("ping"); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// Document serves the committed page for preview.
func (h *WorkspaceHandler) Document(c *gin.Context) {
	doc := h.sv.Document()
	if doc.Empty() {
		writeError(c, http.StatusNotFound, workspace.ErrNoDocument)
		return
	}
	servePage(c, doc.HTML)
}

func (h *WorkspaceHandler) Export(c *gin.Context) {
	var req model.ExportRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, err)
			return
		}
	}
	if strings.TrimSpace(req.Name) == "" {
		req.Name = h.defaultName
	}

	doc := h.sv.Document()
	if doc.Empty() {
		writeError(c, http.StatusBadRequest, workspace.ErrNoDocument)
		return
	}

	rec, err := h.store.Save(c.Request.Context(), req.Name, doc)
	if err != nil {
		writeStorageError(c, err)
		return
	}
	logger.Infof("Exported %s (%d bytes) to %s", rec.Name, rec.SizeBytes, rec.Location)
	c.JSON(http.StatusCreated, rec)
}

func (h *WorkspaceHandler) ListExports(c *gin.Context) {
	records, err := h.store.List(c.Request.Context())
	if err != nil {
		writeStorageError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"exports": records})
}

func (h *WorkspaceHandler) GetExport(c *gin.Context) {
	doc, err := h.store.Load(c.Request.Context(), c.Param("name"))
	if err != nil {
		writeStorageError(c, err)
		return
	}
	servePage(c, doc.HTML)
}

func (h *WorkspaceHandler) DeleteExport(c *gin.Context) {
	if err := h.store.Delete(c.Request.Context(), c.Param("name")); err != nil {
		writeStorageError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func servePage(c *gin.Context, html string) {
	c.Header("Content-Security-Policy", previewCSP)
	c.Header("X-Content-Type-Options", "nosniff")
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(html))
}

func writeError(c *gin.Context, status int, err error) {
	c.JSON(status, model.ErrorResponse{Error: err.Error(), Kind: workspace.ErrorKind(err), Code: status})
}

func writeEngineError(c *gin.Context, err error) {
	status := http.StatusBadGateway
	switch {
	case errors.Is(err, workspace.ErrBusy):
		status = http.StatusConflict
	case errors.Is(err, workspace.ErrInvalidRequest):
		status = http.StatusBadRequest
	case errors.Is(err, workspace.ErrCancelled):
		status = http.StatusGatewayTimeout
	}
	writeError(c, status, err)
}

func writeStorageError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, storage.ErrDocumentNotFound):
		status = http.StatusNotFound
	case errors.Is(err, storage.ErrInvalidName), errors.Is(err, storage.ErrInvalidData):
		status = http.StatusBadRequest
	default:
		logger.Errorf("Export storage failed: %v", err)
	}
	c.JSON(status, model.ErrorResponse{Error: err.Error(), Code: status})
}
