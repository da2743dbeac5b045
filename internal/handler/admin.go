package handler

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/table-reservation/internal/booking"
	"github.com/iliyamo/table-reservation/internal/middleware"
)

// AdminHandler serves the review and maintenance endpoints.  All methods
// assume JWTAuth and RequireRole("ADMIN") already ran.
type AdminHandler struct {
	Svc *booking.Service
	Log *zap.Logger
}

func NewAdminHandler(svc *booking.Service, log *zap.Logger) *AdminHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &AdminHandler{Svc: svc, Log: log}
}

// List handles GET /v1/admin/reservations?date=&status=.
func (h *AdminHandler) List(c echo.Context) error {
	items, err := h.Svc.ListReservations(c.Request().Context(), c.QueryParam("date"), c.QueryParam("status"))
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items, "count": len(items)})
}

// Cancel handles DELETE /v1/admin/reservations/:id.  It follows the same
// rules as a customer cancellation and is logged with the acting admin.
func (h *AdminHandler) Cancel(c echo.Context) error {
	id := c.Param("id")
	if err := h.Svc.CancelBooking(c.Request().Context(), id); err != nil {
		return writeError(c, h.Log, err)
	}
	subject, _ := c.Get(middleware.CtxSubject).(string)
	h.Log.Info("reservation cancelled by admin",
		zap.String("reservation_id", id),
		zap.String("subject", subject))
	return c.NoContent(http.StatusNoContent)
}

// Reconcile handles POST /v1/admin/reconcile?date=&fix=true.  Without fix it
// only reports drift.
func (h *AdminHandler) Reconcile(c echo.Context) error {
	fix := false
	if raw := c.QueryParam("fix"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return badRequest(c, "fix must be a boolean")
		}
		fix = v
	}
	report, err := h.Svc.Reconcile(c.Request().Context(), c.QueryParam("date"), fix)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, report)
}
