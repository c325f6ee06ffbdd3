package notification

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/odonto/payments/internal/platform/apperr"
	"github.com/odonto/payments/internal/platform/webhook"
)

const MsgNotificationSent = "Notification dispatched to the patient"

// PatientCheck returns an apperr not-found error for an unknown patient.
type PatientCheck func(ctx context.Context, patientID int64) error

// Handler receives payment notices from the payment workflow. When secret is
// set, requests must carry a valid webhook signature.
type Handler struct {
	svc      *Service
	secret   string
	patients PatientCheck
}

func NewHandler(svc *Service, secret string, patients PatientCheck) *Handler {
	return &Handler{svc: svc, secret: secret, patients: patients}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/NotificacionP/pago", h.NotifyPayment)
	e.GET("/pacientes/:id/notificaciones", h.History)
}

func (h *Handler) NotifyPayment(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if h.secret != "" && !webhook.VerifySignature(body, h.secret, c.Request().Header.Get(webhook.SignatureHeader)) {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid signature")
	}

	var notice PaymentNotice
	if err := json.Unmarshal(body, &notice); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	sent, err := h.svc.NotifyPayment(c.Request().Context(), notice)
	if err != nil && len(sent) == 0 {
		return apperr.HTTP(err)
	}
	if err != nil {
		zerolog.Ctx(c.Request().Context()).Warn().Err(err).Int64("payment_id", notice.ID).Msg("payment notification partly failed")
	}
	return c.JSON(http.StatusOK, map[string]any{
		"message":       MsgNotificationSent,
		"notifications": sent,
	})
}

func (h *Handler) History(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.patients(c.Request().Context(), id); err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, h.svc.History(id))
}
