package billing

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medibook/medibook/internal/platform/apperr"
	"github.com/medibook/medibook/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/payments/create-order", h.CreateOrder, auth.RequireAuth())
	api.POST("/payments/verify", h.VerifyPayment, auth.RequireAuth())
	api.GET("/payments", h.ListPayments, auth.RequireAuth())
}

func (h *Handler) CreateOrder(c echo.Context) error {
	var req CreateOrderRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	id, err := uuid.Parse(req.AppointmentID)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "appointmentId must be a valid id")
	}
	caller, _ := auth.CallerFromContext(c.Request().Context())
	resp, err := h.svc.CreateOrder(c.Request().Context(), caller, id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) VerifyPayment(c echo.Context) error {
	var req VerifyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	id, err := h.svc.VerifyPayment(c.Request().Context(), req)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, &VerifyResponse{
		Success:       true,
		Message:       "Payment verified successfully",
		AppointmentID: id,
	})
}

func (h *Handler) ListPayments(c echo.Context) error {
	var apptID *uuid.UUID
	if v := c.QueryParam("appointmentId"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid appointmentId")
		}
		apptID = &id
	}
	caller, _ := auth.CallerFromContext(c.Request().Context())
	items, err := h.svc.ListPayments(c.Request().Context(), caller, apptID)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": items})
}
