package queue

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinicq/clinicq/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/queue/entries", h.Enqueue)
	api.GET("/queue/entries", h.ListQueue)
	api.GET("/queue/current", h.CurrentPosition)
	api.GET("/queue/total", h.QueueTotal)
	api.DELETE("/queue/entries", h.RemoveEntry)
	api.POST("/queue/entries/pending", h.MarkPending)
	api.POST("/future-appointments", h.CreateFutureAppointment)
	api.GET("/future-appointments", h.ListFutureAppointments)
}

// httpError maps service errors onto HTTP statuses: rejected input is the
// caller's fault, anything else is ours.
func httpError(err error) error {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return echo.NewHTTPError(http.StatusBadRequest, verr.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

// parseDate accepts YYYY-MM-DD. The empty string parses to the zero time so
// that required-field validation stays in the service.
func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(DateLayout, s)
}

func keyFromQuery(c echo.Context) (Key, error) {
	var key Key
	if v := c.QueryParam("doctor_id"); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil {
			return key, echo.NewHTTPError(http.StatusBadRequest, "invalid doctor_id")
		}
		key.DoctorID = id
	}
	date, err := parseDate(c.QueryParam("appointment_date"))
	if err != nil {
		return key, echo.NewHTTPError(http.StatusBadRequest, "invalid appointment_date, want YYYY-MM-DD")
	}
	key.AppointmentDate = date
	key.HospitalID = c.QueryParam("hospital_id")
	return key, nil
}

func positionFromQuery(c echo.Context) (int, error) {
	v := c.QueryParam("position")
	if v == "" {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "position query parameter required")
	}
	pos, err := strconv.Atoi(v)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid position")
	}
	return pos, nil
}

// -- Queue Handlers --

type enqueueRequest struct {
	DoctorID        int       `json:"doctor_id"`
	AppointmentDate string    `json:"appointment_date"`
	HospitalID      string    `json:"hospital_id"`
	TicketID        uuid.UUID `json:"ticket_id"`
}

func (h *Handler) Enqueue(c echo.Context) error {
	var req enqueueRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	date, err := parseDate(req.AppointmentDate)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid appointment_date, want YYYY-MM-DD")
	}
	e := Entry{
		DoctorID:        req.DoctorID,
		AppointmentDate: date,
		HospitalID:      req.HospitalID,
		TicketID:        req.TicketID,
	}
	if err := h.svc.Enqueue(c.Request().Context(), &e); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, e)
}

func (h *Handler) ListQueue(c echo.Context) error {
	key, err := keyFromQuery(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListQueue(c.Request().Context(), key, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewPage(items, total, pg))
}

func (h *Handler) CurrentPosition(c echo.Context) error {
	key, err := keyFromQuery(c)
	if err != nil {
		return err
	}
	pos, err := h.svc.CurrentPosition(c.Request().Context(), key)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]*int{"position": pos})
}

func (h *Handler) QueueTotal(c echo.Context) error {
	key, err := keyFromQuery(c)
	if err != nil {
		return err
	}
	total, err := h.svc.QueueTotal(c.Request().Context(), key)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]int{"total": total})
}

func (h *Handler) RemoveEntry(c echo.Context) error {
	key, err := keyFromQuery(c)
	if err != nil {
		return err
	}
	pos, err := positionFromQuery(c)
	if err != nil {
		return err
	}
	if err := h.svc.RemoveEntry(c.Request().Context(), key, pos); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) MarkPending(c echo.Context) error {
	key, err := keyFromQuery(c)
	if err != nil {
		return err
	}
	pos, err := positionFromQuery(c)
	if err != nil {
		return err
	}
	if err := h.svc.MarkPending(c.Request().Context(), key, pos); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Future Appointment Handlers --

type futureAppointmentRequest struct {
	DoctorID              int       `json:"doctor_id"`
	PatientID             uuid.UUID `json:"patient_id"`
	FutureAppointmentDate string    `json:"future_appointment_date"`
	Notes                 *string   `json:"notes"`
}

func (h *Handler) CreateFutureAppointment(c echo.Context) error {
	var req futureAppointmentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	date, err := parseDate(req.FutureAppointmentDate)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid future_appointment_date, want YYYY-MM-DD")
	}
	f := FutureAppointment{
		DoctorID:              req.DoctorID,
		PatientID:             req.PatientID,
		FutureAppointmentDate: date,
		Notes:                 req.Notes,
	}
	if err := h.svc.CreateFutureReference(c.Request().Context(), &f); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, f)
}

func (h *Handler) ListFutureAppointments(c echo.Context) error {
	doctorID, err := strconv.Atoi(c.QueryParam("doctor_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid doctor_id")
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListFutureAppointmentsByDoctor(c.Request().Context(), doctorID, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewPage(items, total, pg))
}
