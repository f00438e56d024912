package natsadapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	nats "github.com/nats-io/nats.go"

	"github.com/example/orcid-service/internal/domain"
	"github.com/example/orcid-service/internal/usecase"
)

// Publisher puts deposit units on a subject for the consumer group to pick up.
// Publish only buffers locally, so Enqueue never waits on the registry.
type Publisher struct {
	conn    *nats.Conn
	subject string
}

func NewPublisher(conn *nats.Conn, subject string) *Publisher {
	return &Publisher{conn: conn, subject: subject}
}

func (p *Publisher) Enqueue(_ context.Context, unit domain.DepositUnit) error {
	if p.conn == nil {
		return errors.New("nats connection is nil")
	}
	data, err := json.Marshal(unit)
	if err != nil {
		return fmt.Errorf("encode deposit unit: %w", err)
	}
	return p.conn.Publish(p.subject, data)
}

// MailPublisher hands verification links to the mail service.
type MailPublisher struct {
	conn    *nats.Conn
	subject string
}

func NewMailPublisher(conn *nats.Conn, subject string) *MailPublisher {
	return &MailPublisher{conn: conn, subject: subject}
}

func (p *MailPublisher) SendAuthorVerification(_ context.Context, v usecase.AuthorVerification) error {
	if p.conn == nil {
		return errors.New("nats connection is nil")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode verification mail: %w", err)
	}
	return p.conn.Publish(p.subject, data)
}
