package event

import (
	"context"
	"fmt"
	"log/slog"

	pkgkafka "github.com/Yoseph-M/Soultalk-sub000/pkg/kafka"
	"github.com/Yoseph-M/Soultalk-sub000/pkg/logger"
	"github.com/Yoseph-M/Soultalk-sub000/services/sessiond/internal/domain"
)

// Event types for the session lifecycle. Each type is published to its own
// topic, named by TopicFor.
const (
	TypeLoggedIn            = "session.logged_in"
	TypeLoggedOut           = "session.logged_out"
	TypeVerificationPending = "session.verification_pending"
	TypeRefreshFailed       = "session.refresh_failed"
	TypeRegistered          = "session.registered"
)

const topicPrefix = "soultalk."

// SourceSessionService identifies events originating from sessiond.
const SourceSessionService = "sessiond"

// TopicFor returns the Kafka topic an event type is written to.
func TopicFor(eventType string) string {
	return topicPrefix + eventType
}

// Publisher emits session lifecycle events.
type Publisher interface {
	LoggedIn(ctx context.Context, user *domain.User) error
	LoggedOut(ctx context.Context, userID string) error
	VerificationPending(ctx context.Context, user *domain.User) error
	RefreshFailed(ctx context.Context, userID string) error
	Registered(ctx context.Context, email string, role domain.Role) error
	Close() error
}

// LoggedInData is the payload for a session.logged_in event.
type LoggedInData struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
}

// LoggedOutData is the payload for a session.logged_out event.
type LoggedOutData struct {
	UserID string `json:"user_id,omitempty"`
}

// VerificationPendingData is the payload for a session.verification_pending
// event.
type VerificationPendingData struct {
	UserID             string `json:"user_id"`
	Email              string `json:"email"`
	Role               string `json:"role"`
	VerificationStatus string `json:"verification_status,omitempty"`
}

// RefreshFailedData is the payload for a session.refresh_failed event.
type RefreshFailedData struct {
	UserID string `json:"user_id,omitempty"`
}

// RegisteredData is the payload for a session.registered event.
type RegisteredData struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

// Producer publishes session events to Kafka.
type Producer struct {
	kafka  *pkgkafka.Producer
	logger *slog.Logger
}

// NewProducer creates a new event producer for sessiond.
func NewProducer(kafka *pkgkafka.Producer, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

// LoggedIn publishes a session.logged_in event.
func (p *Producer) LoggedIn(ctx context.Context, user *domain.User) error {
	return p.publish(ctx, TypeLoggedIn, user.ID, LoggedInData{
		UserID: user.ID,
		Email:  user.Email,
		Role:   string(user.Role),
	})
}

// LoggedOut publishes a session.logged_out event.
func (p *Producer) LoggedOut(ctx context.Context, userID string) error {
	return p.publish(ctx, TypeLoggedOut, userID, LoggedOutData{UserID: userID})
}

// VerificationPending publishes a session.verification_pending event.
func (p *Producer) VerificationPending(ctx context.Context, user *domain.User) error {
	return p.publish(ctx, TypeVerificationPending, user.ID, VerificationPendingData{
		UserID:             user.ID,
		Email:              user.Email,
		Role:               string(user.Role),
		VerificationStatus: string(user.VerificationStatus),
	})
}

// RefreshFailed publishes a session.refresh_failed event.
func (p *Producer) RefreshFailed(ctx context.Context, userID string) error {
	return p.publish(ctx, TypeRefreshFailed, userID, RefreshFailedData{UserID: userID})
}

// Registered publishes a session.registered event keyed by email, since the
// backend does not return an ID on registration.
func (p *Producer) Registered(ctx context.Context, email string, role domain.Role) error {
	return p.publish(ctx, TypeRegistered, email, RegisteredData{
		Email: email,
		Role:  string(role),
	})
}

// Close flushes and closes the underlying writer.
func (p *Producer) Close() error {
	return p.kafka.Close()
}

func (p *Producer) publish(ctx context.Context, eventType, subject string, data any) error {
	event, err := pkgkafka.NewEvent(SourceSessionService, eventType, subject, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", eventType, err)
	}
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		event.WithCorrelationID(id)
	}

	topic := TopicFor(eventType)
	if err := p.kafka.Publish(ctx, topic, event); err != nil {
		return fmt.Errorf("publish %s event: %w", eventType, err)
	}

	p.logger.DebugContext(ctx, "published session event",
		slog.String("topic", topic),
		slog.String("subject", subject),
	)
	return nil
}

// Nop discards every event. It is used when Kafka is disabled.
type Nop struct{}

func (Nop) LoggedIn(context.Context, *domain.User) error            { return nil }
func (Nop) LoggedOut(context.Context, string) error                 { return nil }
func (Nop) VerificationPending(context.Context, *domain.User) error { return nil }
func (Nop) RefreshFailed(context.Context, string) error             { return nil }
func (Nop) Registered(context.Context, string, domain.Role) error   { return nil }
func (Nop) Close() error                                            { return nil }
