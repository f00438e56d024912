package natsadapter

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	nats "github.com/nats-io/nats.go"

	"github.com/example/orcid-service/internal/domain"
	pkglog "github.com/example/orcid-service/pkg/log"
)

// DepositTrigger starts aggregation for publish and review-completion events.
type DepositTrigger interface {
	DepositSubmission(ctx context.Context, submissionID string) error
	DepositReview(ctx context.Context, reviewAssignmentID string) error
}

// Submitter accepts decoded units, waiting for room when the pool is busy.
type Submitter interface {
	Submit(ctx context.Context, unit domain.DepositUnit) error
}

type eventRequest struct {
	SubmissionID       string `json:"submission_id,omitempty"`
	ReviewAssignmentID string `json:"review_assignment_id,omitempty"`
}

type eventResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// EventHandler answers publication-published and review-completed requests.
type EventHandler struct {
	trigger   DepositTrigger
	logger    pkglog.Logger
	timeout   time.Duration
	respondFn func(msg *nats.Msg, resp eventResponse)
}

func NewEventHandler(trigger DepositTrigger, logger pkglog.Logger) *EventHandler {
	return &EventHandler{trigger: trigger, logger: pkglog.Component(logger, "nats-events"), timeout: 10 * time.Second, respondFn: respond}
}

func (h *EventHandler) Subscribe(conn *nats.Conn, publishedSubject, reviewSubject, queue string) error {
	if conn == nil {
		return errors.New("nats connection is nil")
	}
	if _, err := conn.QueueSubscribe(publishedSubject, queue, h.handlePublished); err != nil {
		return err
	}
	_, err := conn.QueueSubscribe(reviewSubject, queue, h.handleReview)
	return err
}

func (h *EventHandler) handlePublished(msg *nats.Msg) {
	var req eventRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil || req.SubmissionID == "" {
		h.respondFn(msg, eventResponse{OK: false, Error: "invalid_payload"})
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	h.reply(msg, "submission_id", req.SubmissionID, h.trigger.DepositSubmission(ctx, req.SubmissionID))
}

func (h *EventHandler) handleReview(msg *nats.Msg) {
	var req eventRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil || req.ReviewAssignmentID == "" {
		h.respondFn(msg, eventResponse{OK: false, Error: "invalid_payload"})
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	h.reply(msg, "review_assignment_id", req.ReviewAssignmentID, h.trigger.DepositReview(ctx, req.ReviewAssignmentID))
}

func (h *EventHandler) reply(msg *nats.Msg, key, id string, err error) {
	switch {
	case err == nil:
		h.respondFn(msg, eventResponse{OK: true})
	case errors.Is(err, domain.ErrSubmissionNotPublished):
		h.respondFn(msg, eventResponse{OK: false, Error: "not_published"})
	case errors.Is(err, domain.ErrNotFound):
		h.respondFn(msg, eventResponse{OK: false, Error: "not_found"})
	default:
		h.logger.Error().Err(err).Str(key, id).Msg("deposit trigger failed")
		h.respondFn(msg, eventResponse{OK: false, Error: "internal"})
	}
}

// Consumer feeds units published by any instance into the local worker pool.
type Consumer struct {
	pool   Submitter
	logger pkglog.Logger
}

func NewConsumer(pool Submitter, logger pkglog.Logger) *Consumer {
	return &Consumer{pool: pool, logger: pkglog.Component(logger, "nats-consumer")}
}

func (c *Consumer) Subscribe(conn *nats.Conn, subject, queue string) error {
	if conn == nil {
		return errors.New("nats connection is nil")
	}
	_, err := conn.QueueSubscribe(subject, queue, c.handle)
	return err
}

func (c *Consumer) handle(msg *nats.Msg) {
	var unit domain.DepositUnit
	if err := json.Unmarshal(msg.Data, &unit); err != nil || unit.ID == "" {
		c.logger.Error().Err(err).Str("subject", msg.Subject).Msg("malformed deposit unit dropped")
		return
	}
	if err := c.pool.Submit(context.Background(), unit); err != nil {
		c.logger.Error().Err(err).Str("unit_id", unit.ID).Msg("deposit unit dropped")
	}
}

func respond(msg *nats.Msg, resp eventResponse) {
	data, _ := json.Marshal(resp)
	_ = msg.Respond(data)
}
