package handler

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/thethien2906/KnMdiscova-api-sub000/internal/middleware"
	"github.com/thethien2906/KnMdiscova-api-sub000/internal/models"
	appErrors "github.com/thethien2906/KnMdiscova-api-sub000/pkg/errors"
	"github.com/thethien2906/KnMdiscova-api-sub000/pkg/export"
	"github.com/thethien2906/KnMdiscova-api-sub000/pkg/response"
)

// SlotBrowser serves slot listings and the schedule export dataset.
type SlotBrowser interface {
	ListAvailable(ctx context.Context, psychologistID string, from, to time.Time) ([]models.Slot, error)
	ScheduleDataset(ctx context.Context, psychologistID string, from, to time.Time) (*export.Dataset, error)
}

// AvailabilityChecker answers consecutive-slot availability probes.
type AvailabilityChecker interface {
	CheckAvailability(ctx context.Context, psychologistID string, date time.Time, startTime string, count int) (bool, []models.Slot, error)
}

// SlotHandler exposes the marketplace slot browsing endpoints.
type SlotHandler struct {
	slots   SlotBrowser
	checker AvailabilityChecker
	pdf     *export.PDFExporter
	csv     *export.CSVExporter
}

// NewSlotHandler builds the handler.
func NewSlotHandler(slots SlotBrowser, checker AvailabilityChecker) *SlotHandler {
	return &SlotHandler{
		slots:   slots,
		checker: checker,
		pdf:     export.NewPDFExporter(),
		csv:     export.NewCSVExporter(),
	}
}

// List godoc
// @Summary      List available slots
// @Description  Returns a psychologist's bookable slots in a date range, cached briefly.
// @Tags         slots
// @Produce      json
// @Param        id    path      string  true   "psychologist id"
// @Param        from  query     string  false  "start date (YYYY-MM-DD, default today)"
// @Param        to    query     string  false  "end date (YYYY-MM-DD, default +30d)"
// @Success      200   {object}  response.Envelope{data=[]models.Slot}
// @Security     BearerAuth
// @Router       /psychologists/{id}/slots [get]
func (h *SlotHandler) List(c *gin.Context) {
	from, to, err := dateRange(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	slots, err := h.slots.ListAvailable(c.Request.Context(), c.Param("id"), from, to)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, slots, nil)
}

// Check godoc
// @Summary      Check consecutive availability
// @Description  Reports whether the slots a session needs are currently claimable, without holding them.
// @Tags         slots
// @Produce      json
// @Param        id            path      string  true  "psychologist id"
// @Param        date          query     string  true  "date (YYYY-MM-DD)"
// @Param        start_time    query     string  true  "start time (HH:MM)"
// @Param        session_type  query     string  true  "OnlineMeeting or InitialConsultation"
// @Success      200           {object}  response.Envelope
// @Security     BearerAuth
// @Router       /psychologists/{id}/slots/check [get]
func (h *SlotHandler) Check(c *gin.Context) {
	date, err := time.ParseInLocation("2006-01-02", c.Query("date"), time.UTC)
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid date"))
		return
	}
	sessionType := models.SessionType(c.Query("session_type"))
	if !sessionType.Valid() {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid session_type"))
		return
	}

	available, slots, err := h.checker.CheckAvailability(c.Request.Context(), c.Param("id"), date, c.Query("start_time"), sessionType.SlotsNeeded())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"available": available, "slots": slots}, nil)
}

// ExportSchedule godoc
// @Summary      Download schedule
// @Description  Exports the psychologist's upcoming available slots as PDF or CSV.
// @Tags         slots
// @Produce      application/pdf
// @Produce      text/csv
// @Param        format  query  string  false  "pdf or csv (default pdf)"
// @Param        from    query  string  false  "start date (YYYY-MM-DD, default today)"
// @Param        to      query  string  false  "end date (YYYY-MM-DD, default +30d)"
// @Success      200
// @Security     BearerAuth
// @Router       /availability/schedule/export [get]
func (h *SlotHandler) ExportSchedule(c *gin.Context) {
	from, to, err := dateRange(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	psychologistID := c.Param("id")
	if psychologistID == "" {
		psychologistID = middleware.Actor(c).ID
	}

	ds, err := h.slots.ScheduleDataset(c.Request.Context(), psychologistID, from, to)
	if err != nil {
		response.Error(c, err)
		return
	}

	filename := fmt.Sprintf("schedule_%s_%s", from.Format("20060102"), to.Format("20060102"))
	switch c.DefaultQuery("format", "pdf") {
	case "csv":
		raw, err := h.csv.Render(*ds)
		if err != nil {
			response.Error(c, err)
			return
		}
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s.csv", filename))
		c.Data(http.StatusOK, "text/csv", raw)
	default:
		raw, err := h.pdf.Render(*ds, "Available schedule")
		if err != nil {
			response.Error(c, err)
			return
		}
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s.pdf", filename))
		c.Data(http.StatusOK, "application/pdf", raw)
	}
}

func dateRange(c *gin.Context) (time.Time, time.Time, error) {
	now := time.Now().UTC()
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 30)

	if raw := c.Query("from"); raw != "" {
		parsed, err := time.ParseInLocation("2006-01-02", raw, time.UTC)
		if err != nil {
			return time.Time{}, time.Time{}, appErrors.Clone(appErrors.ErrValidation, "invalid from date")
		}
		from = parsed
	}
	if raw := c.Query("to"); raw != "" {
		parsed, err := time.ParseInLocation("2006-01-02", raw, time.UTC)
		if err != nil {
			return time.Time{}, time.Time{}, appErrors.Clone(appErrors.ErrValidation, "invalid to date")
		}
		to = parsed
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, appErrors.Clone(appErrors.ErrValidation, "to must not precede from")
	}
	return from, to, nil
}
