package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mr1hm/go-hazard-watch/internal/apperr"
	"github.com/mr1hm/go-hazard-watch/internal/engine"
	"github.com/mr1hm/go-hazard-watch/internal/models"
	"github.com/mr1hm/go-hazard-watch/internal/search"
	"github.com/mr1hm/go-hazard-watch/internal/state"
)

const (
	defaultNearestLimit = 5
	maxNearestLimit     = 50
)

// Service is the engine surface the HTTP API drives.
type Service interface {
	State() state.UIState
	Search(query string) []search.Entry
	NearestShelters(limit int) []search.ShelterDistance
	ReportPosition(c models.Coordinate, label string)
	Retry(ctx context.Context) error
	SubmitReport(ctx context.Context, r models.Report) (models.ReportReceipt, error)
	PruneCache(ctx context.Context, maxAge time.Duration) (map[models.EntityKind]int64, error)
}

type Handler struct {
	svc    Service
	logger *slog.Logger
}

func NewHandler(svc Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.GET("/state", h.getState)
	api.GET("/map.geojson", h.getMap)
	api.GET("/search", h.search)
	api.GET("/shelters/nearest", h.nearestShelters)
	api.POST("/position", h.reportPosition)
	api.POST("/sync", h.retrySync)
	api.POST("/reports", h.submitReport)
	api.POST("/cache/prune", h.pruneCache)
}

func (h *Handler) health(c *gin.Context) {
	st := h.svc.State()
	c.JSON(http.StatusOK, gin.H{
		"status":       "ok",
		"has_snapshot": st.HasSnapshot,
		"realtime":     st.Realtime,
	})
}

func (h *Handler) getState(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.State())
}

func (h *Handler) getMap(c *gin.Context) {
	data, err := toGeoJSON(h.svc.State()).MarshalJSON()
	if err != nil {
		h.logger.Error("failed to encode map", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to encode map"})
		return
	}
	c.Data(http.StatusOK, "application/geo+json", data)
}

func (h *Handler) search(c *gin.Context) {
	results := h.svc.Search(c.Query("q"))
	if results == nil {
		results = []search.Entry{}
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (h *Handler) nearestShelters(c *gin.Context) {
	limit := defaultNearestLimit
	if l := c.Query("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= maxNearestLimit {
			limit = n
		}
	}
	if h.svc.State().Position == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "no position reported"})
		return
	}
	results := h.svc.NearestShelters(limit)
	if results == nil {
		results = []search.ShelterDistance{}
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

type positionRequest struct {
	Latitude  *float64 `json:"latitude" binding:"required"`
	Longitude *float64 `json:"longitude" binding:"required"`
	Label     string   `json:"label"`
}

func (h *Handler) reportPosition(c *gin.Context) {
	var req positionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "latitude and longitude are required"})
		return
	}
	coord := models.Coordinate{Latitude: *req.Latitude, Longitude: *req.Longitude}
	if !coord.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "coordinate out of range"})
		return
	}
	h.svc.ReportPosition(coord, req.Label)
	c.JSON(http.StatusAccepted, h.svc.State())
}

func (h *Handler) retrySync(c *gin.Context) {
	if err := h.svc.Retry(c.Request.Context()); err != nil {
		status := errorStatus(err)
		c.JSON(status, gin.H{"error": err.Error(), "state": h.svc.State()})
		return
	}
	c.JSON(http.StatusOK, h.svc.State())
}

type reportRequest struct {
	ID          string   `json:"id"`
	Category    string   `json:"category" binding:"required"`
	Description string   `json:"description"`
	Latitude    float64  `json:"latitude"`
	Longitude   float64  `json:"longitude"`
	PhotoURLs   []string `json:"photo_urls"`
}

func (h *Handler) submitReport(c *gin.Context) {
	var req reportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "category is required"})
		return
	}
	receipt, err := h.svc.SubmitReport(c.Request.Context(), models.Report{
		ID:          req.ID,
		Category:    req.Category,
		Description: req.Description,
		Coordinate:  models.Coordinate{Latitude: req.Latitude, Longitude: req.Longitude},
		PhotoURLs:   req.PhotoURLs,
	})
	if err != nil {
		c.JSON(errorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, receipt)
}

func (h *Handler) pruneCache(c *gin.Context) {
	maxAge, err := time.ParseDuration(c.DefaultQuery("max_age", "168h"))
	if err != nil || maxAge <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "max_age must be a positive duration"})
		return
	}
	removed, err := h.svc.PruneCache(c.Request.Context(), maxAge)
	if err != nil {
		c.JSON(errorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

// errorStatus maps engine and remote failures onto HTTP statuses.
func errorStatus(err error) int {
	var (
		network     *apperr.NetworkError
		server      *apperr.ServerError
		client      *apperr.ClientError
		parse       *apperr.ParseError
		unavailable *apperr.DataUnavailableError
	)
	switch {
	case errors.Is(err, engine.ErrInvalidReport):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrSyncInProgress):
		return http.StatusConflict
	case errors.Is(err, engine.ErrStopped), errors.As(err, &unavailable):
		return http.StatusServiceUnavailable
	case errors.As(err, &network), errors.As(err, &server), errors.As(err, &parse):
		return http.StatusBadGateway
	case errors.As(err, &client):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
