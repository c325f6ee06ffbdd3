package payment

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/odonto/payments/internal/platform/apperr"
)

type Handler struct {
	wf *Workflow
}

func NewHandler(wf *Workflow) *Handler {
	return &Handler{wf: wf}
}

// RegisterRoutes mounts the payment routes. limit guards the client-facing
// routes; bankAuth guards the bank callback.
func (h *Handler) RegisterRoutes(e *echo.Echo, limit, bankAuth echo.MiddlewareFunc) {
	e.POST("/IPago/datosP", h.Initiate, limit)
	e.PUT("/paciente/:patient_id/cambioEP", h.ChangeStatus, limit)
	e.POST("/ValidacionP", h.BankNotice, limit, bankAuth)

	e.GET("/pagos/:id", h.GetPayment)
	e.GET("/facturas/:id/pagos", h.ListForInvoice)
}

func parseIDParam(c echo.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

func (h *Handler) Initiate(c echo.Context) error {
	var req InitiateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	p, err := h.wf.Initiate(c.Request().Context(), req)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ChangeStatus(c echo.Context) error {
	patientID, err := parseIDParam(c, "patient_id")
	if err != nil {
		return err
	}
	var req StatusChange
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	p, err := h.wf.ChangeStatus(c.Request().Context(), patientID, req)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) BankNotice(c echo.Context) error {
	var n BankNotice
	if err := c.Bind(&n); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	resp, err := h.wf.HandleBankNotice(c.Request().Context(), n)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) GetPayment(c echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}
	p, err := h.wf.GetPayment(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListForInvoice(c echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}
	items, err := h.wf.ListForInvoice(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, items)
}
