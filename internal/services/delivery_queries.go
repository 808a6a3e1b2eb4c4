// Package services – DeliveryService read side.
//
// Query methods backing the inspection endpoints. These never mutate state
// and bubble repo.ErrNotFound unchanged so the transport layer can map it.
package services

import (
	"context"

	"github.com/tbourn/go-notify-backend/internal/domain"
	"github.com/tbourn/go-notify-backend/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DeliveryStatus is the full state of one delivery request: the stored
// message, the request row, and the complete attempt trail in insertion
// order.
type DeliveryStatus struct {
	Request  domain.DeliveryRequest   `json:"request"`
	Message  domain.Message           `json:"message"`
	Attempts []domain.DeliveryAttempt `json:"attempts"`
}

// GetDelivery loads a delivery request with its message and attempt trail.
func (s *DeliveryService) GetDelivery(ctx context.Context, requestID string) (*DeliveryStatus, error) {
	tr := otel.Tracer("services/DeliveryService")
	ctx, span := tr.Start(ctx, "GetDelivery",
		trace.WithAttributes(attribute.String("request.id", requestID)),
	)
	defer span.End()

	req, err := repo.GetRequest(ctx, s.DB, requestID)
	if err != nil {
		return nil, err
	}
	msg, err := repo.GetMessage(ctx, s.DB, req.MessageID)
	if err != nil {
		return nil, err
	}
	attempts, err := repo.ListAttemptsByRequest(ctx, s.DB, req.ID)
	if err != nil {
		return nil, err
	}
	return &DeliveryStatus{Request: *req, Message: *msg, Attempts: attempts}, nil
}

// ListAttemptsPage returns one page of a request's attempt trail and the
// total count. The request must exist; a missing id yields repo.ErrNotFound
// rather than an empty page.
func (s *DeliveryService) ListAttemptsPage(ctx context.Context, requestID string, page, pageSize int) ([]domain.DeliveryAttempt, int64, error) {
	tr := otel.Tracer("services/DeliveryService")
	ctx, span := tr.Start(ctx, "ListAttemptsPage",
		trace.WithAttributes(
			attribute.String("request.id", requestID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}

	if _, err := repo.GetRequest(ctx, s.DB, requestID); err != nil {
		return nil, 0, err
	}
	total, err := repo.CountAttempts(ctx, s.DB, requestID)
	if err != nil {
		return nil, 0, err
	}
	items, err := repo.ListAttemptsPage(ctx, s.DB, requestID, (page-1)*pageSize, pageSize)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}
