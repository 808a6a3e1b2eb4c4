// Delivery HTTP handlers.
//
// This file exposes REST endpoints for delivery resources:
//   - POST   /deliveries                  (submit a delivery intent)
//   - GET    /deliveries/{id}             (inspect request, message, attempts)
//   - GET    /deliveries/{id}/attempts    (attempt trail, paginated)
//
// Handlers are transport-thin: they validate input, call the orchestrator,
// and translate the service error taxonomy into HTTP responses.
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tbourn/go-notify-backend/internal/domain"
	"github.com/tbourn/go-notify-backend/internal/repo"
	"github.com/tbourn/go-notify-backend/internal/services"
	"github.com/tbourn/go-notify-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// DeliveryService defines the orchestration and inspection operations
// consumed by HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type DeliveryService interface {
	// Deliver executes one delivery intent end to end.
	Deliver(ctx context.Context, in services.DeliverInput) (*services.DeliverResult, error)
	// GetDelivery loads a delivery request with its message and attempts.
	GetDelivery(ctx context.Context, requestID string) (*services.DeliveryStatus, error)
	// ListAttemptsPage returns a page of a request's attempt trail.
	ListAttemptsPage(ctx context.Context, requestID string, page, pageSize int) ([]domain.DeliveryAttempt, int64, error)
}

// PreferenceService defines channel preference reads and writes.
type PreferenceService interface {
	// FindByRecipient returns the stored preference, or (nil, nil) when none.
	FindByRecipient(ctx context.Context, contactID string) (*domain.ChannelPreference, error)
	// Upsert creates or replaces the preference owned by contactID.
	Upsert(ctx context.Context, contactID string, p *domain.ChannelPreference) (*domain.ChannelPreference, error)
}

//
// Handler wiring
//

// Handlers groups HTTP endpoints for deliveries and preferences. It depends
// on abstract service interfaces to keep transport concerns separate from
// orchestration logic.
type Handlers struct {
	deliverySvc DeliveryService
	prefSvc     PreferenceService
}

// New constructs and returns a Handlers instance bound to the given services.
func New(deliverySvc DeliveryService, prefSvc PreferenceService) *Handlers {
	return &Handlers{deliverySvc: deliverySvc, prefSvc: prefSvc}
}

//
// DTOs
//

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListAttemptsResponse wraps a page of attempts and pagination information.
type ListAttemptsResponse struct {
	Attempts   []domain.DeliveryAttempt `json:"attempts"`
	Pagination Pagination               `json:"pagination"`
}

//
// Handlers
//

// CreateDelivery godoc
// @ID          createDelivery
// @Summary     Submit a delivery intent
// @Description Resolves channels, dispatches concurrently, and returns the attempt trail.
// @Tags        Deliveries
// @Accept      json
// @Produce     json
//
// @Param       body  body  services.DeliverInput  true  "Delivery intent"
//
// @Success     201  {object}  services.DeliverResult  "All channels terminal, no retry owed"
// @Success     202  {object}  services.DeliverResult  "At least one channel has a scheduled retry"
// @Failure     400  {object}  handlers.ValidationFailureResponse  "Invalid input"
// @Failure     404  {object}  handlers.ErrorResponse  "No deliverable channel"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /deliveries [post]
func (h *Handlers) CreateDelivery(c *gin.Context) {
	var in services.DeliverInput
	if err := c.ShouldBindJSON(&in); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	res, err := h.deliverySvc.Deliver(c.Request.Context(), in)
	switch {
	case err == nil:
		ok(c, http.StatusCreated, res)

	case errors.Is(err, services.ErrDeliveryRetryable):
		// The request is persisted and a retry is scheduled; the intent was
		// accepted even though this pass did not fully succeed.
		ok(c, http.StatusAccepted, res)

	case errors.Is(err, services.ErrNoDeliverableChannel):
		fail(c, http.StatusNotFound, ErrCodeNoChannel, err.Error())

	default:
		var verr *services.ValidationError
		if errors.As(err, &verr) {
			failValidation(c, verr.Error(), verr.Fields)
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeDeliverFailed, err.Error())
	}
}

// GetDelivery godoc
// @ID          getDelivery
// @Summary     Inspect a delivery request
// @Description Returns the request row, the stored message, and the full attempt trail.
// @Tags        Deliveries
// @Produce     json
//
// @Param       id  path  string  true  "Delivery request ID (UUID)"  format(uuid)
//
// @Success     200  {object}  services.DeliveryStatus
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Request not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /deliveries/{id} [get]
func (h *Handlers) GetDelivery(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "delivery id must be a UUID")
		return
	}

	status, err := h.deliverySvc.GetDelivery(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "delivery request not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, status)
}

// ListAttempts godoc
// @ID          listAttempts
// @Summary     List delivery attempts (paginated)
// @Description Returns a page of the request's attempt trail in insertion order.
// @Tags        Deliveries
// @Produce     json
//
// @Param       id         path   string  true  "Delivery request ID (UUID)"  format(uuid)
// @Param       page       query  int     false "Page number"     minimum(1) default(1)
// @Param       page_size  query  int     false "Items per page"  minimum(1) maximum(100) default(20)
//
// @Success     200  {object}  handlers.ListAttemptsResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Request not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /deliveries/{id}/attempts [get]
func (h *Handlers) ListAttempts(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "delivery id must be a UUID")
		return
	}
	page, pageSize := utils.PageParams(c.Query("page"), c.Query("page_size"))

	items, total, err := h.deliverySvc.ListAttemptsPage(c.Request.Context(), id, page, pageSize)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "delivery request not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	resp := ListAttemptsResponse{
		Attempts: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	}
	ok(c, http.StatusOK, resp)
}
