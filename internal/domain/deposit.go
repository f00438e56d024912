package domain

import (
	"encoding/json"
	"time"
)

type DepositKind string

const (
	DepositWork   DepositKind = "work"
	DepositReview DepositKind = "review"
)

// DepositState tracks one DepositUnit through the executor.
type DepositState string

const (
	StateEnqueued        DepositState = "enqueued"
	StateExecuting       DepositState = "executing"
	StateSucceeded       DepositState = "succeeded"
	StateFailedTransient DepositState = "failed_transient"
	StateFailedPermanent DepositState = "failed_permanent"
)

// ReviewMeta is carried by review units so the executor can log what it writes.
type ReviewMeta struct {
	Recommendation string       `json:"recommendation,omitempty"`
	Method         ReviewMethod `json:"method"`
}

// DepositUnit is one independent deposit job for exactly one contributor.
// EntityID is the submission id for works and the review assignment id for reviews.
type DepositUnit struct {
	ID         string          `json:"id"`
	Kind       DepositKind     `json:"kind"`
	Identity   IdentityRef     `json:"identity"`
	Orcid      string          `json:"orcid"`
	ContextID  string          `json:"context_id"`
	EntityID   string          `json:"entity_id"`
	Payload    json.RawMessage `json:"payload"`
	Review     *ReviewMeta     `json:"review,omitempty"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}
