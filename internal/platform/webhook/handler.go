package webhook

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
)

// Handler exposes subscription management over HTTP.
type Handler struct {
	manager *Manager
}

// NewHandler creates a Handler backed by the given manager.
func NewHandler(manager *Manager) *Handler {
	return &Handler{manager: manager}
}

// RegisterRoutes binds the webhook management routes to g.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("", h.Subscribe)
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.PUT("/:id", h.Update)
	g.DELETE("/:id", h.Unsubscribe)
	g.POST("/:id/test", h.Ping)
	g.POST("/:id/pause", h.Pause)
	g.POST("/:id/resume", h.Resume)
	g.GET("/:id/deliveries", h.Deliveries)
	g.POST("/deliveries/:id/retry", h.Redeliver)
}

// pageParams reads limit/offset query parameters, defaulting to a 20-row
// page and capping at 100.
func pageParams(c echo.Context) (limit, offset int) {
	limit, _ = strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	offset, _ = strconv.Atoi(c.QueryParam("offset"))
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

type subscribeRequest struct {
	URL    string   `json:"url"`
	Secret string   `json:"secret"`
	Events []string `json:"events"`
	Topics []string `json:"topics"`
}

// Subscribe handles POST /webhooks. The 201 response is the only place the
// signing secret is returned; consumers must store it then.
func (h *Handler) Subscribe(c echo.Context) error {
	var req subscribeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	sub, err := h.manager.Subscribe(c.Request().Context(), req.URL, req.Secret, req.Events, req.Topics)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, sub)
}

// List handles GET /webhooks.
func (h *Handler) List(c echo.Context) error {
	limit, offset := pageParams(c)
	subs, total, err := h.manager.Subscriptions(c.Request().Context(), limit, offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]*Subscription, len(subs))
	for i, sub := range subs {
		out[i] = sub.redacted()
	}
	return c.JSON(http.StatusOK, echo.Map{
		"data":     out,
		"total":    total,
		"limit":    limit,
		"offset":   offset,
		"has_more": offset+limit < total,
	})
}

// Get handles GET /webhooks/:id.
func (h *Handler) Get(c echo.Context) error {
	sub, err := h.manager.Subscription(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "subscription not found")
	}
	return c.JSON(http.StatusOK, sub.redacted())
}

type updateRequest struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Topics []string `json:"topics"`
	Status string   `json:"status"`
}

// Update handles PUT /webhooks/:id. Only the fields present in the body
// change; setting status to active also clears the failure streak.
func (h *Handler) Update(c echo.Context) error {
	ctx := c.Request().Context()
	sub, err := h.manager.Subscription(ctx, c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "subscription not found")
	}
	var req updateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.URL != "" {
		if err := validateTargetURL(req.URL); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		sub.URL = req.URL
	}
	if len(req.Events) > 0 {
		sub.Events = req.Events
	}
	if req.Topics != nil {
		sub.Topics = req.Topics
	}
	switch Status(req.Status) {
	case "":
	case StatusActive:
		sub.Status = StatusActive
		sub.Failures = 0
	case StatusPaused:
		sub.Status = StatusPaused
	default:
		return echo.NewHTTPError(http.StatusBadRequest,
			fmt.Sprintf("status must be %q or %q", StatusActive, StatusPaused))
	}
	sub.UpdatedAt = time.Now()
	if err := h.manager.UpdateSubscription(ctx, sub); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, sub.redacted())
}

// Unsubscribe handles DELETE /webhooks/:id.
func (h *Handler) Unsubscribe(c echo.Context) error {
	if err := h.manager.Unsubscribe(c.Request().Context(), c.Param("id")); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "subscription not found")
	}
	return c.NoContent(http.StatusNoContent)
}

// Ping handles POST /webhooks/:id/test by sending a synthetic signed event
// and returning the resulting delivery.
func (h *Handler) Ping(c echo.Context) error {
	d, err := h.manager.Ping(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, d)
}

// Pause handles POST /webhooks/:id/pause.
func (h *Handler) Pause(c echo.Context) error {
	sub, err := h.manager.Pause(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, sub.redacted())
}

// Resume handles POST /webhooks/:id/resume.
func (h *Handler) Resume(c echo.Context) error {
	sub, err := h.manager.Resume(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, sub.redacted())
}

// Deliveries handles GET /webhooks/:id/deliveries.
func (h *Handler) Deliveries(c echo.Context) error {
	limit, offset := pageParams(c)
	logs, total, err := h.manager.Deliveries(c.Request().Context(), c.Param("id"), limit, offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, echo.Map{
		"data":     logs,
		"total":    total,
		"limit":    limit,
		"offset":   offset,
		"has_more": offset+limit < total,
	})
}

// Redeliver handles POST /webhooks/deliveries/:id/retry.
func (h *Handler) Redeliver(c echo.Context) error {
	d, err := h.manager.Redeliver(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, d)
}
