// Package alert records operator alerts and forwards notifications to
// external channels.
package alert

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/holdroom/backend/internal/content"
	"github.com/holdroom/backend/internal/session"
)

// Sender delivers a notification out of band. Enqueue must not block.
type Sender interface {
	Enqueue(message string)
}

// Service persists alerts, pushes them to live observers and relays
// notifications to a Sender. It satisfies session.Alerter.
type Service struct {
	repo     content.Repository
	notifier session.Notifier
	sender   Sender
	log      *zap.Logger
	now      func() time.Time
}

func NewService(repo content.Repository, notifier session.Notifier, sender Sender, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		repo:     repo,
		notifier: notifier,
		sender:   sender,
		log:      log,
		now:      time.Now,
	}
}

var validSeverity = map[string]bool{
	content.SeverityInfo:     true,
	content.SeverityWarning:  true,
	content.SeverityCritical: true,
}

// Create stores a new alert and announces it to observers. Empty kind and
// severity default to system and info.
func (s *Service) Create(ctx context.Context, kind, message, severity string) (*content.Alert, error) {
	if message == "" {
		return nil, fmt.Errorf("%w: alert message is required", session.ErrInvalidArgument)
	}
	if kind == "" {
		kind = content.AlertSystem
	}
	if severity == "" {
		severity = content.SeverityInfo
	}
	if !validSeverity[severity] {
		return nil, fmt.Errorf("%w: unknown severity %q", session.ErrInvalidArgument, severity)
	}

	a := &content.Alert{
		ID:        uuid.NewString(),
		Type:      kind,
		Message:   message,
		Severity:  severity,
		CreatedAt: s.now(),
	}
	if err := s.repo.CreateAlert(ctx, a); err != nil {
		return nil, fmt.Errorf("storing alert: %w", err)
	}
	if s.notifier != nil {
		cp := *a
		s.notifier.ToAllObservers(session.NewAlert{Alert: &cp})
	}
	return a, nil
}

// Raise is Create for callers that cannot act on a failure.
func (s *Service) Raise(ctx context.Context, kind, message, severity string) {
	if _, err := s.Create(ctx, kind, message, severity); err != nil {
		s.log.Warn("raising alert failed", zap.String("type", kind), zap.Error(err))
	}
}

func (s *Service) Notify(message string) {
	if s.sender != nil {
		s.sender.Enqueue(message)
	}
}

var _ session.Alerter = (*Service)(nil)
