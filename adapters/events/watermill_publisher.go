package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/veridoc/authgate/ports"
)

const (
	LoginTopic      = "auth.login"
	LogoutTopic     = "auth.logout"
	TokenReuseTopic = "auth.token_reuse"
)

// SessionEvent is the payload published on every auth topic.
type SessionEvent struct {
	Address string `json:"address"`
	TokenID string `json:"token_id,omitempty"`
}

// WatermillPublisher implements EventPublisher over a Watermill transport.
type WatermillPublisher struct {
	publisher message.Publisher
}

// NewWatermillPublisher creates a publisher for session events.
func NewWatermillPublisher(publisher message.Publisher) ports.EventPublisher {
	return &WatermillPublisher{publisher: publisher}
}

func (p *WatermillPublisher) PublishLogin(ctx context.Context, address, tokenID string) error {
	return p.publish(LoginTopic, SessionEvent{Address: address, TokenID: tokenID})
}

func (p *WatermillPublisher) PublishLogout(ctx context.Context, address string) error {
	return p.publish(LogoutTopic, SessionEvent{Address: address})
}

func (p *WatermillPublisher) PublishTokenReuse(ctx context.Context, address, tokenID string) error {
	return p.publish(TokenReuseTopic, SessionEvent{Address: address, TokenID: tokenID})
}

func (p *WatermillPublisher) publish(topic string, event SessionEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(uuid.New().String(), payload)
	if err := p.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// NopPublisher drops every event. Used when no message transport is
// configured.
type NopPublisher struct{}

func NewNop() ports.EventPublisher { return &NopPublisher{} }

func (NopPublisher) PublishLogin(ctx context.Context, address, tokenID string) error { return nil }
func (NopPublisher) PublishLogout(ctx context.Context, address string) error         { return nil }
func (NopPublisher) PublishTokenReuse(ctx context.Context, address, tokenID string) error {
	return nil
}
