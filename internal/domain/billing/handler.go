package billing

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/odonto/payments/internal/platform/apperr"
	"github.com/odonto/payments/pkg/money"
	"github.com/odonto/payments/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	u := e.Group("/usuarios/:patient_id")
	u.GET("/consultaF", h.ConsultBalances)
	u.GET("/facturas", h.ListPatientInvoices)
	u.POST("/facturas", h.CreateInvoice)
	u.GET("/resumen", h.PatientSummary)

	f := e.Group("/facturas")
	f.GET("", h.ListInvoices)
	f.GET("/:id", h.GetInvoice)
	f.GET("/:id/validacion", h.ValidateInvoice)
	f.POST("/:id/cancelar", h.CancelInvoice)
	f.DELETE("/:id", h.DeleteInvoice)
}

func parseIDParam(c echo.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

func parseAmountQuery(c echo.Context, name string) (money.Amount, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return money.Zero, nil
	}
	a, err := money.Parse(raw)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name+": "+err.Error())
	}
	return a, nil
}

func parseStatusQuery(c echo.Context) (InvoiceStatus, error) {
	st, err := ParseStatus(c.QueryParam("status"))
	if err != nil {
		return "", apperr.HTTP(err)
	}
	return st, nil
}

func (h *Handler) ConsultBalances(c echo.Context) error {
	patientID, err := parseIDParam(c, "patient_id")
	if err != nil {
		return err
	}
	accrued, err := parseAmountQuery(c, "accrued_interest")
	if err != nil {
		return err
	}
	contingent, err := parseAmountQuery(c, "contingent_interest")
	if err != nil {
		return err
	}
	resp, err := h.svc.ConsultBalances(c.Request().Context(), patientID, accrued, contingent)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) ListPatientInvoices(c echo.Context) error {
	patientID, err := parseIDParam(c, "patient_id")
	if err != nil {
		return err
	}
	status, err := parseStatusQuery(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListInvoicesForPatient(c.Request().Context(), patientID, status)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) CreateInvoice(c echo.Context) error {
	patientID, err := parseIDParam(c, "patient_id")
	if err != nil {
		return err
	}
	var req NewInvoice
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	inv, err := h.svc.CreateInvoice(c.Request().Context(), patientID, req)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, inv)
}

func (h *Handler) PatientSummary(c echo.Context) error {
	patientID, err := parseIDParam(c, "patient_id")
	if err != nil {
		return err
	}
	sum, err := h.svc.PatientSummary(c.Request().Context(), patientID)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, sum)
}

func (h *Handler) ListInvoices(c echo.Context) error {
	status, err := parseStatusQuery(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListInvoicesByStatus(c.Request().Context(), status, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetInvoice(c echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}
	inv, err := h.svc.GetInvoice(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, inv)
}

func (h *Handler) ValidateInvoice(c echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}
	v, err := h.svc.ValidateInvoiceForPayment(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) CancelInvoice(c echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}
	inv, err := h.svc.CancelInvoice(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, inv)
}

func (h *Handler) DeleteInvoice(c echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}
	if err := h.svc.DeleteInvoice(c.Request().Context(), id); err != nil {
		return apperr.HTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}
