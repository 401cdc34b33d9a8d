package notification

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// NotificationHandler exposes the notification history and manual send
// endpoints. Manual sends exist for front-desk staff re-sending a ticket SMS
// after a patient mistypes their number.
type NotificationHandler struct {
	manager *NotificationManager
}

func NewNotificationHandler(manager *NotificationManager) *NotificationHandler {
	return &NotificationHandler{manager: manager}
}

func (h *NotificationHandler) RegisterRoutes(g *echo.Group) {
	g.POST("/notifications/send", h.Send)
	g.POST("/notifications/send-template", h.SendTemplate)
	g.GET("/notifications/stats", h.GetStats)
	g.GET("/notifications/:id", h.Get)
	g.GET("/notifications", h.List)
	g.POST("/notifications/:id/retry", h.Retry)
}

type sendRequest struct {
	Channel   Channel `json:"channel"`
	Recipient string  `json:"recipient"`
	Subject   string  `json:"subject"`
	Body      string  `json:"body"`
}

// Send handles POST /notifications/send.
func (h *NotificationHandler) Send(c echo.Context) error {
	var req sendRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Recipient == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "recipient is required")
	}
	if req.Channel != ChannelEmail && req.Channel != ChannelSMS {
		return echo.NewHTTPError(http.StatusBadRequest, "channel must be email or sms")
	}

	n := &Notification{
		Channel:   req.Channel,
		Recipient: req.Recipient,
		Subject:   req.Subject,
		Body:      req.Body,
	}
	// A delivery failure still returns the recorded notification; its status
	// and error fields carry the outcome.
	_ = h.manager.Send(c.Request().Context(), n)
	return c.JSON(http.StatusCreated, n)
}

type sendTemplateRequest struct {
	TemplateID string            `json:"template_id"`
	Recipient  string            `json:"recipient"`
	Data       map[string]string `json:"data"`
}

// SendTemplate handles POST /notifications/send-template.
func (h *NotificationHandler) SendTemplate(c echo.Context) error {
	var req sendTemplateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Recipient == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "recipient is required")
	}

	n, err := h.manager.SendFromTemplate(c.Request().Context(), req.TemplateID, req.Data, req.Recipient)
	if err != nil && n == nil {
		// Nothing was recorded: the template is unknown.
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, n)
}

// Get handles GET /notifications/:id.
func (h *NotificationHandler) Get(c echo.Context) error {
	n, err := h.manager.GetNotification(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, n)
}

// List handles GET /notifications?recipient=...
func (h *NotificationHandler) List(c echo.Context) error {
	recipient := c.QueryParam("recipient")
	if recipient == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "recipient query parameter is required")
	}

	list, err := h.manager.ListByRecipient(c.Request().Context(), recipient, 100)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, list)
}

// Retry handles POST /notifications/:id/retry.
func (h *NotificationHandler) Retry(c echo.Context) error {
	id := c.Param("id")
	if err := h.manager.Retry(c.Request().Context(), id); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	n, err := h.manager.GetNotification(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, n)
}

// GetStats handles GET /notifications/stats.
func (h *NotificationHandler) GetStats(c echo.Context) error {
	return c.JSON(http.StatusOK, h.manager.Stats(c.Request().Context()))
}
