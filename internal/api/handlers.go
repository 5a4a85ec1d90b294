package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"mediaqueue/internal/task"
)

type createDownloadRequest struct {
	URL       string            `json:"url"`
	OutputDir string            `json:"output_dir"`
	Format    map[string]string `json:"format"`
}

type downloadResponse struct {
	TaskID string      `json:"task_id"`
	Status task.Status `json:"status"`
}

type errorResponse struct {
	Error  string            `json:"error"`
	Fields []task.FieldError `json:"fields,omitempty"`
}

type API struct {
	manager *task.Manager
}

func NewAPI(manager *task.Manager) *API {
	return &API{manager: manager}
}

// RegisterRoutes registers API routes on the provided gin engine
func (a *API) RegisterRoutes(router *gin.Engine) {
	router.GET("/healthz", a.Health)

	api := router.Group("/api/v1")
	{
		api.POST("/downloads", a.CreateDownload)
		api.GET("/downloads", a.ListDownloads)
		api.GET("/downloads/:id", a.GetDownload)
		api.DELETE("/downloads/:id", a.CancelDownload)
		api.GET("/info", a.GetInfo)
		api.GET("/history", a.GetHistory)
		api.DELETE("/history", a.ClearHistory)
	}
}

// CreateDownload validates and queues a download
func (a *API) CreateDownload(c *gin.Context) {
	var req createDownloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warn().Err(err).Msg("invalid create download request")
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	id, err := a.manager.Submit(req.URL, req.OutputDir, req.Format, statusLogger())
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, downloadResponse{TaskID: id, Status: task.StatusPending})
}

func (a *API) ListDownloads(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"downloads": a.manager.List()})
}

func (a *API) GetDownload(c *gin.Context) {
	snap, err := a.manager.GetStatus(c.Param("id"))
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// CancelDownload requests cancellation; running tasks settle asynchronously
func (a *API) CancelDownload(c *gin.Context) {
	id := c.Param("id")
	if err := a.manager.Cancel(id); err != nil {
		a.writeError(c, err)
		return
	}
	snap, err := a.manager.GetStatus(id)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, downloadResponse{TaskID: id, Status: snap.Status})
}

// GetInfo returns the raw media metadata document for ?url=
func (a *API) GetInfo(c *gin.Context) {
	meta, err := a.manager.Info(c.Request.Context(), c.Query("url"))
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", meta)
}

func (a *API) GetHistory(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, errorResponse{Error: "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	c.JSON(http.StatusOK, gin.H{"history": a.manager.History(limit)})
}

func (a *API) ClearHistory(c *gin.Context) {
	if err := a.manager.ClearHistory(); err != nil {
		a.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *API) Health(c *gin.Context) {
	c.JSON(http.StatusOK, a.manager.Stats())
}

func (a *API) writeError(c *gin.Context, err error) {
	resp := errorResponse{Error: err.Error()}
	status := http.StatusInternalServerError
	switch task.KindOf(err) {
	case task.KindValidation:
		status = http.StatusBadRequest
		var ve *task.ValidationError
		if errors.As(err, &ve) {
			resp.Fields = ve.Errors
		}
	case task.KindNotFound:
		status = http.StatusNotFound
	case task.KindRateLimited:
		status = http.StatusTooManyRequests
	case task.KindShuttingDown:
		status = http.StatusServiceUnavailable
	}
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	}
	c.JSON(status, resp)
}

func statusLogger() task.Callbacks {
	return task.Callbacks{
		OnStatusChange: func(status task.Status, err error) {
			log.Debug().Str("status", string(status)).AnErr("reason", err).Msg("download status changed")
		},
	}
}
