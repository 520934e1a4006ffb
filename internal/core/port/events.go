package port

import (
	"context"

	"github.com/arklim/auth-core/internal/core/domain"
)

// SecurityEventPublisher mirrors persisted security events to downstream consumers.
type SecurityEventPublisher interface {
	PublishSecurityEvent(ctx context.Context, event domain.SecurityEvent) error
}
