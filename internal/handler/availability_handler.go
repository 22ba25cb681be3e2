package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/thethien2906/KnMdiscova-api-sub000/internal/middleware"
	"github.com/thethien2906/KnMdiscova-api-sub000/internal/models"
	appErrors "github.com/thethien2906/KnMdiscova-api-sub000/pkg/errors"
	"github.com/thethien2906/KnMdiscova-api-sub000/pkg/response"
)

// AvailabilityManager is the block management surface.
type AvailabilityManager interface {
	Create(ctx context.Context, actor models.Actor, req *models.UpsertAvailabilityRequest) (*models.AvailabilityBlock, error)
	Update(ctx context.Context, actor models.Actor, blockID string, req *models.UpsertAvailabilityRequest) (*models.AvailabilityBlock, error)
	Delete(ctx context.Context, actor models.Actor, blockID string) error
	List(ctx context.Context, psychologistID string) ([]models.AvailabilityBlock, error)
	Generate(ctx context.Context, actor models.Actor, blockID string) error
	BulkGenerate(ctx context.Context) error
}

// AvailabilityHandler exposes a psychologist's availability block CRUD.
type AvailabilityHandler struct {
	availability AvailabilityManager
}

// NewAvailabilityHandler builds the handler.
func NewAvailabilityHandler(availability AvailabilityManager) *AvailabilityHandler {
	return &AvailabilityHandler{availability: availability}
}

// Create godoc
// @Summary      Create availability block
// @Description  Declares a recurring or one-off open window. Slot generation runs in the background.
// @Tags         availability
// @Accept       json
// @Produce      json
// @Param        payload  body      models.UpsertAvailabilityRequest  true  "block"
// @Success      201      {object}  response.Envelope{data=models.AvailabilityBlock}
// @Failure      400      {object}  response.Envelope
// @Security     BearerAuth
// @Router       /availability [post]
func (h *AvailabilityHandler) Create(c *gin.Context) {
	var req models.UpsertAvailabilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload"))
		return
	}

	block, err := h.availability.Create(c.Request.Context(), middleware.Actor(c), &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, block)
}

// Update godoc
// @Summary      Update availability block
// @Description  Rewrites a block's window. Future available slots are regenerated; held and booked slots keep their state.
// @Tags         availability
// @Accept       json
// @Produce      json
// @Param        id       path      string                            true  "block id"
// @Param        payload  body      models.UpsertAvailabilityRequest  true  "block"
// @Success      200      {object}  response.Envelope{data=models.AvailabilityBlock}
// @Failure      404      {object}  response.Envelope
// @Security     BearerAuth
// @Router       /availability/{id} [put]
func (h *AvailabilityHandler) Update(c *gin.Context) {
	var req models.UpsertAvailabilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload"))
		return
	}

	block, err := h.availability.Update(c.Request.Context(), middleware.Actor(c), c.Param("id"), &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, block, nil)
}

// Delete godoc
// @Summary      Delete availability block
// @Description  Removes a block and purges its future available slots.
// @Tags         availability
// @Produce      json
// @Param        id   path  string  true  "block id"
// @Success      204
// @Failure      404  {object}  response.Envelope
// @Security     BearerAuth
// @Router       /availability/{id} [delete]
func (h *AvailabilityHandler) Delete(c *gin.Context) {
	if err := h.availability.Delete(c.Request.Context(), middleware.Actor(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Generate godoc
// @Summary      Regenerate slots for a block
// @Description  Re-enqueues slot generation for one block. Recovery endpoint; creates and updates trigger generation automatically.
// @Tags         availability
// @Produce      json
// @Param        id   path  string  true  "block id"
// @Success      202
// @Failure      404  {object}  response.Envelope
// @Security     BearerAuth
// @Router       /availability/{id}/generate [post]
func (h *AvailabilityHandler) Generate(c *gin.Context) {
	if err := h.availability.Generate(c.Request.Context(), middleware.Actor(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

// BulkGenerate godoc
// @Summary      Regenerate the full slot horizon
// @Description  Enqueues the bulk regeneration and past-slot cleanup pass for all providers.
// @Tags         availability
// @Produce      json
// @Success      202
// @Security     BearerAuth
// @Router       /slots/bulk-generate [post]
func (h *AvailabilityHandler) BulkGenerate(c *gin.Context) {
	if err := h.availability.BulkGenerate(c.Request.Context()); err != nil {
		response.Error(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

// List godoc
// @Summary      List own availability blocks
// @Tags         availability
// @Produce      json
// @Success      200  {object}  response.Envelope{data=[]models.AvailabilityBlock}
// @Security     BearerAuth
// @Router       /availability [get]
func (h *AvailabilityHandler) List(c *gin.Context) {
	blocks, err := h.availability.List(c.Request.Context(), middleware.Actor(c).ID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, blocks, nil)
}
