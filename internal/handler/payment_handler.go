package handler

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/thethien2906/KnMdiscova-api-sub000/internal/models"
	appErrors "github.com/thethien2906/KnMdiscova-api-sub000/pkg/errors"
	"github.com/thethien2906/KnMdiscova-api-sub000/pkg/response"
)

// PaymentCallbackHandler is the surface payment webhooks drive.
type PaymentCallbackHandler interface {
	OnPaymentSucceeded(ctx context.Context, bookingID string) (*models.Booking, error)
	OnPaymentFailedOrExpired(ctx context.Context, bookingID string) (*models.Booking, error)
}

// PaymentWebhookRequest is the payment provider's callback payload.
type PaymentWebhookRequest struct {
	BookingID string `json:"booking_id" validate:"required,uuid4"`
	Event     string `json:"event" validate:"required,oneof=payment.succeeded payment.failed payment.expired"`
}

// PaymentHandler receives asynchronous payment outcome callbacks. The
// endpoint is authenticated by a shared webhook secret rather than a user
// token.
type PaymentHandler struct {
	bookings PaymentCallbackHandler
	secret   string
	validate *validator.Validate
}

// NewPaymentHandler builds the handler.
func NewPaymentHandler(bookings PaymentCallbackHandler, secret string) *PaymentHandler {
	return &PaymentHandler{bookings: bookings, secret: secret, validate: validator.New()}
}

// Webhook godoc
// @Summary      Payment outcome callback
// @Description  Confirms or cancels a booking based on the payment outcome. Idempotent per booking.
// @Tags         payments
// @Accept       json
// @Produce      json
// @Param        X-Webhook-Secret  header    string                 true  "shared secret"
// @Param        payload           body      PaymentWebhookRequest  true  "event"
// @Success      200               {object}  response.Envelope{data=models.Booking}
// @Failure      401               {object}  response.Envelope
// @Router       /payments/webhook [post]
func (h *PaymentHandler) Webhook(c *gin.Context) {
	if subtle.ConstantTimeCompare([]byte(c.GetHeader("X-Webhook-Secret")), []byte(h.secret)) != 1 {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req PaymentWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload"))
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, appErrors.ErrValidation.Message))
		return
	}

	var (
		booking *models.Booking
		err     error
	)
	if req.Event == "payment.succeeded" {
		booking, err = h.bookings.OnPaymentSucceeded(c.Request.Context(), req.BookingID)
	} else {
		booking, err = h.bookings.OnPaymentFailedOrExpired(c.Request.Context(), req.BookingID)
	}
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, booking, nil)
}
