package handler

import (
	"errors"
	"net/http"
	"time"

	"tracker-server/internal/aggregation"
	"tracker-server/internal/apierrors"
	"tracker-server/internal/observability"
	"tracker-server/internal/postback"
	"tracker-server/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const dateLayout = "2006-01-02"

type Handler struct {
	store     *store.Store
	engine    *aggregation.Engine
	postbacks *postback.Service
	logger    *observability.Logger
}

func New(s *store.Store, engine *aggregation.Engine, postbacks *postback.Service, logger *observability.Logger) Handler {
	return Handler{
		store:     s,
		engine:    engine,
		postbacks: postbacks,
		logger:    logger,
	}
}

// RunAggregationRequest represents a manual aggregation trigger
type RunAggregationRequest struct {
	Date *string `json:"date,omitempty"`
}

// HandleRunAggregation triggers aggregation for one date (yesterday UTC when
// no date is given).
func (h Handler) HandleRunAggregation(c *gin.Context) {
	ctx := c.Request.Context()

	// An empty body is a valid "aggregate yesterday" request.
	var req RunAggregationRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			apierrors.BadRequest(c, "invalid_request", "malformed request body")
			return
		}
	}

	var date *time.Time
	if req.Date != nil {
		parsed, err := time.Parse(dateLayout, *req.Date)
		if err != nil {
			apierrors.BadRequest(c, "invalid_date", "date must be YYYY-MM-DD")
			return
		}
		date = &parsed
	}

	result, err := h.engine.RunDailyAggregation(ctx, date)
	if err != nil {
		if errors.Is(err, aggregation.ErrAlreadyRunning) {
			apierrors.Conflict(c, "aggregation_running", "an aggregation run is already in progress")
			return
		}
		apierrors.InternalError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// BackfillRequest represents a date-range aggregation request
type BackfillRequest struct {
	StartDate string `json:"start_date" binding:"required"`
	EndDate   string `json:"end_date" binding:"required"`
}

// HandleBackfill re-aggregates an inclusive date range.
func (h Handler) HandleBackfill(c *gin.Context) {
	ctx := c.Request.Context()

	var req BackfillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.BadRequest(c, "invalid_request", "start_date and end_date are required")
		return
	}

	start, err := time.Parse(dateLayout, req.StartDate)
	if err != nil {
		apierrors.BadRequest(c, "invalid_date", "start_date must be YYYY-MM-DD")
		return
	}
	end, err := time.Parse(dateLayout, req.EndDate)
	if err != nil {
		apierrors.BadRequest(c, "invalid_date", "end_date must be YYYY-MM-DD")
		return
	}
	if end.Before(start) {
		apierrors.BadRequest(c, "invalid_range", "end_date must not be before start_date")
		return
	}

	result, err := h.engine.Backfill(ctx, start, end)
	if err != nil {
		if errors.Is(err, aggregation.ErrAlreadyRunning) {
			apierrors.Conflict(c, "aggregation_running", "an aggregation run is already in progress")
			return
		}
		apierrors.InternalError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// HandleAggregationStatus reports whether a run is in progress and the
// last completed run time.
func (h Handler) HandleAggregationStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.Status())
}

// HandleGetDailyStats returns aggregated rows for an inclusive date range.
func (h Handler) HandleGetDailyStats(c *gin.Context) {
	ctx := c.Request.Context()

	from, err := time.Parse(dateLayout, c.Query("from"))
	if err != nil {
		apierrors.BadRequest(c, "invalid_date", "from must be YYYY-MM-DD")
		return
	}
	to, err := time.Parse(dateLayout, c.Query("to"))
	if err != nil {
		apierrors.BadRequest(c, "invalid_date", "to must be YYYY-MM-DD")
		return
	}

	stats, err := h.store.GetDailyStats(ctx, from, to)
	if err != nil {
		apierrors.InternalError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"stats": stats})
}

// HandleSendPostback triggers a fresh postback fan-out for a conversion.
func (h Handler) HandleSendPostback(c *gin.Context) {
	ctx := c.Request.Context()

	conversionID, err := uuid.Parse(c.Param("conversion_id"))
	if err != nil {
		apierrors.BadRequest(c, "invalid_conversion_id", "conversion_id must be a UUID")
		return
	}

	if err := h.postbacks.Deliver(ctx, conversionID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			apierrors.NotFound(c, "conversion not found")
			return
		}
		apierrors.InternalError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "sent"})
}

// HandleRetryPostback attempts a conversion's pending deliveries now,
// ahead of their scheduled retry time.
func (h Handler) HandleRetryPostback(c *gin.Context) {
	ctx := c.Request.Context()

	conversionID, err := uuid.Parse(c.Param("conversion_id"))
	if err != nil {
		apierrors.BadRequest(c, "invalid_conversion_id", "conversion_id must be a UUID")
		return
	}

	attempted, err := h.postbacks.RetryConversion(ctx, conversionID)
	if err != nil {
		apierrors.InternalError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"attempted": attempted})
}

// HandleGetPostbackLogs returns the attempt history for a conversion.
func (h Handler) HandleGetPostbackLogs(c *gin.Context) {
	ctx := c.Request.Context()

	conversionID, err := uuid.Parse(c.Param("conversion_id"))
	if err != nil {
		apierrors.BadRequest(c, "invalid_conversion_id", "conversion_id must be a UUID")
		return
	}

	logs, err := h.store.GetPostbackLogsByConversion(ctx, conversionID)
	if err != nil {
		apierrors.InternalError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

// HandleGetOfferCaps reports an offer's cap limits against current counts.
func (h Handler) HandleGetOfferCaps(c *gin.Context) {
	ctx := c.Request.Context()

	offerID, err := uuid.Parse(c.Param("offer_id"))
	if err != nil {
		apierrors.BadRequest(c, "invalid_offer_id", "offer_id must be a UUID")
		return
	}

	caps, err := h.store.CheckOfferCaps(ctx, offerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			apierrors.NotFound(c, "offer not found")
			return
		}
		apierrors.InternalError(c, err)
		return
	}

	c.JSON(http.StatusOK, caps)
}
