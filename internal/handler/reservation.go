package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/table-reservation/internal/booking"
)

// ReservationHandler serves the public booking endpoints.
type ReservationHandler struct {
	Svc *booking.Service
	Log *zap.Logger
}

func NewReservationHandler(svc *booking.Service, log *zap.Logger) *ReservationHandler {
	if svc == nil {
		panic("nil booking service passed to NewReservationHandler")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &ReservationHandler{Svc: svc, Log: log}
}

type createReservationReq struct {
	Date      string  `json:"date"`
	Time      string  `json:"time"`
	PartySize int     `json:"party_size"`
	Name      string  `json:"name"`
	Email     string  `json:"email"`
	Phone     *string `json:"phone"`
	Notes     *string `json:"notes"`
}

type calendarResp struct {
	Date        string   `json:"date"`
	Closed      bool     `json:"closed"`
	SlotMinutes int      `json:"slot_minutes"`
	Capacity    int      `json:"capacity"`
	Slots       []string `json:"slots"`
}

// Calendar handles GET /v1/calendar?date=YYYY-MM-DD.  It returns the slot
// labels offered on the date without capacity figures, so the response only
// changes with configuration and may be cached.
func (h *ReservationHandler) Calendar(c echo.Context) error {
	date := c.QueryParam("date")
	cal := h.Svc.Calendar()
	if _, err := cal.ParseDate(date); err != nil {
		return badRequest(c, err.Error())
	}
	return c.JSON(http.StatusOK, calendarResp{
		Date:        date,
		Closed:      cal.IsBlackout(date),
		SlotMinutes: cal.Config().SlotMinutes,
		Capacity:    cal.CapacityFor(date),
		Slots:       cal.GenerateSlots(date),
	})
}

// Availability handles GET /v1/availability?date=YYYY-MM-DD.
func (h *ReservationHandler) Availability(c echo.Context) error {
	av, err := h.Svc.GetAvailability(c.Request().Context(), c.QueryParam("date"))
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, av)
}

// Create handles POST /v1/reservations.  On success it responds 201 with the
// stored reservation and a Location header pointing at it.
func (h *ReservationHandler) Create(c echo.Context) error {
	var req createReservationReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	res, err := h.Svc.CreateBooking(c.Request().Context(), booking.CreateInput{
		Date:      req.Date,
		Time:      req.Time,
		PartySize: req.PartySize,
		Name:      req.Name,
		Email:     req.Email,
		Phone:     req.Phone,
		Notes:     req.Notes,
	})
	if err != nil {
		return writeError(c, h.Log, err)
	}
	c.Response().Header().Set(echo.HeaderLocation, "/v1/reservations/"+res.ID)
	return c.JSON(http.StatusCreated, res)
}

// Get handles GET /v1/reservations/:id.
func (h *ReservationHandler) Get(c echo.Context) error {
	res, err := h.Svc.GetBooking(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, res)
}

// Cancel handles DELETE /v1/reservations/:id.  The reservation id acts as
// the cancellation credential.
func (h *ReservationHandler) Cancel(c echo.Context) error {
	if err := h.Svc.CancelBooking(c.Request().Context(), c.Param("id")); err != nil {
		return writeError(c, h.Log, err)
	}
	return c.NoContent(http.StatusNoContent)
}
