package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/thethien2906/KnMdiscova-api-sub000/internal/middleware"
	"github.com/thethien2906/KnMdiscova-api-sub000/internal/models"
	appErrors "github.com/thethien2906/KnMdiscova-api-sub000/pkg/errors"
	"github.com/thethien2906/KnMdiscova-api-sub000/pkg/response"
)

// BookingManager is the booking lifecycle surface.
type BookingManager interface {
	RequestBooking(ctx context.Context, actor models.Actor, req *models.CreateBookingRequest) (*models.Booking, error)
	GetBooking(ctx context.Context, actor models.Actor, bookingID string) (*models.Booking, error)
	ListUpcoming(ctx context.Context, actor models.Actor, p models.Pagination) ([]models.Booking, error)
	Cancel(ctx context.Context, actor models.Actor, bookingID, reason string) (*models.Booking, error)
	Complete(ctx context.Context, actor models.Actor, bookingID string) (*models.Booking, error)
	MarkNoShow(ctx context.Context, actor models.Actor, bookingID string) (*models.Booking, error)
	VerifySession(ctx context.Context, actor models.Actor, code string) (*models.Booking, error)
}

// HoldManager covers the hold maintenance endpoints.
type HoldManager interface {
	ExtendHold(ctx context.Context, holder, psychologistID string) (int64, error)
	Release(ctx context.Context, holder, psychologistID string) (int64, error)
}

// BookingHandler exposes the booking lifecycle endpoints.
type BookingHandler struct {
	bookings BookingManager
	holds    HoldManager
}

// NewBookingHandler builds the handler.
func NewBookingHandler(bookings BookingManager, holds HoldManager) *BookingHandler {
	return &BookingHandler{bookings: bookings, holds: holds}
}

// Create godoc
// @Summary      Request a booking
// @Description  Holds the needed consecutive slots and records a payment-pending booking. The hold expires if payment does not complete in time.
// @Tags         bookings
// @Accept       json
// @Produce      json
// @Param        payload  body      models.CreateBookingRequest  true  "booking request"
// @Success      201      {object}  response.Envelope{data=models.Booking}
// @Failure      409      {object}  response.Envelope
// @Security     BearerAuth
// @Router       /bookings [post]
func (h *BookingHandler) Create(c *gin.Context) {
	var req models.CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload"))
		return
	}

	booking, err := h.bookings.RequestBooking(c.Request.Context(), middleware.Actor(c), &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, booking)
}

// Get godoc
// @Summary      Get a booking
// @Tags         bookings
// @Produce      json
// @Param        id   path      string  true  "booking id"
// @Success      200  {object}  response.Envelope{data=models.Booking}
// @Failure      404  {object}  response.Envelope
// @Security     BearerAuth
// @Router       /bookings/{id} [get]
func (h *BookingHandler) Get(c *gin.Context) {
	booking, err := h.bookings.GetBooking(c.Request.Context(), middleware.Actor(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, booking, nil)
}

// ListUpcoming godoc
// @Summary      List upcoming bookings
// @Description  Returns the caller's future pending and confirmed bookings, soonest first.
// @Tags         bookings
// @Produce      json
// @Param        page       query     int  false  "page (default 1)"
// @Param        page_size  query     int  false  "page size (default 20, max 100)"
// @Success      200        {object}  response.Envelope{data=[]models.Booking}
// @Security     BearerAuth
// @Router       /bookings/upcoming [get]
func (h *BookingHandler) ListUpcoming(c *gin.Context) {
	p := pagination(c)
	bookings, err := h.bookings.ListUpcoming(c.Request.Context(), middleware.Actor(c), p)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, bookings, &p)
}

// Cancel godoc
// @Summary      Cancel a booking
// @Description  Cancels an upcoming booking and returns its slots to the pool. Paid bookings are marked for refund.
// @Tags         bookings
// @Accept       json
// @Produce      json
// @Param        id       path      string                       true   "booking id"
// @Param        payload  body      models.CancelBookingRequest  false  "reason"
// @Success      200      {object}  response.Envelope{data=models.Booking}
// @Failure      409      {object}  response.Envelope
// @Security     BearerAuth
// @Router       /bookings/{id}/cancel [post]
func (h *BookingHandler) Cancel(c *gin.Context) {
	var req models.CancelBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload"))
		return
	}

	booking, err := h.bookings.Cancel(c.Request.Context(), middleware.Actor(c), c.Param("id"), req.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, booking, nil)
}

// Complete godoc
// @Summary      Mark a booking completed
// @Tags         bookings
// @Produce      json
// @Param        id   path      string  true  "booking id"
// @Success      200  {object}  response.Envelope{data=models.Booking}
// @Failure      409  {object}  response.Envelope
// @Security     BearerAuth
// @Router       /bookings/{id}/complete [post]
func (h *BookingHandler) Complete(c *gin.Context) {
	booking, err := h.bookings.Complete(c.Request.Context(), middleware.Actor(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, booking, nil)
}

// MarkNoShow godoc
// @Summary      Mark a booking as no-show
// @Tags         bookings
// @Produce      json
// @Param        id   path      string  true  "booking id"
// @Success      200  {object}  response.Envelope{data=models.Booking}
// @Failure      409  {object}  response.Envelope
// @Security     BearerAuth
// @Router       /bookings/{id}/no-show [post]
func (h *BookingHandler) MarkNoShow(c *gin.Context) {
	booking, err := h.bookings.MarkNoShow(c.Request.Context(), middleware.Actor(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, booking, nil)
}

// VerifySession godoc
// @Summary      Verify in-person attendance
// @Description  Validates a scanned QR code within 30 minutes of the scheduled start.
// @Tags         bookings
// @Accept       json
// @Produce      json
// @Param        payload  body      models.VerifySessionRequest  true  "QR code"
// @Success      200      {object}  response.Envelope{data=models.Booking}
// @Failure      409      {object}  response.Envelope
// @Security     BearerAuth
// @Router       /sessions/verify [post]
func (h *BookingHandler) VerifySession(c *gin.Context) {
	var req models.VerifySessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload"))
		return
	}

	booking, err := h.bookings.VerifySession(c.Request.Context(), middleware.Actor(c), req.Code)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, booking, nil)
}

// ExtendHold godoc
// @Summary      Extend a payment hold
// @Description  Pushes out the caller's live hold expiry for one psychologist.
// @Tags         bookings
// @Produce      json
// @Param        id   path      string  true  "psychologist id"
// @Success      200  {object}  response.Envelope
// @Failure      404  {object}  response.Envelope
// @Security     BearerAuth
// @Router       /psychologists/{id}/hold/extend [post]
func (h *BookingHandler) ExtendHold(c *gin.Context) {
	extended, err := h.holds.ExtendHold(c.Request.Context(), middleware.Actor(c).ID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"extended_slots": extended}, nil)
}

// ReleaseHold godoc
// @Summary      Release a payment hold
// @Description  Drops the caller's held slots for one psychologist. A no-op when nothing is held.
// @Tags         bookings
// @Produce      json
// @Param        id   path      string  true  "psychologist id"
// @Success      200  {object}  response.Envelope
// @Security     BearerAuth
// @Router       /psychologists/{id}/hold [delete]
func (h *BookingHandler) ReleaseHold(c *gin.Context) {
	released, err := h.holds.Release(c.Request.Context(), middleware.Actor(c).ID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"released_slots": released}, nil)
}

func pagination(c *gin.Context) models.Pagination {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	return models.Pagination{Page: page, PageSize: size}
}
