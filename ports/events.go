package ports

import "context"

// EventPublisher notifies other instances about session lifecycle events.
type EventPublisher interface {
	PublishLogin(ctx context.Context, address string, tokenID string) error
	PublishLogout(ctx context.Context, address string) error
	PublishTokenReuse(ctx context.Context, address string, tokenID string) error
}
