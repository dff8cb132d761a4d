package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"go.uber.org/zap"

	"github.com/rl1809/pawfect-shop/internal/logging"
	"github.com/rl1809/pawfect-shop/internal/port"
)

type NewsletterService struct {
	db     port.DatabaseRepository
	logger *zap.Logger
}

func NewNewsletterService(db port.DatabaseRepository, logger *zap.Logger) *NewsletterService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NewsletterService{db: db, logger: logger}
}

// Subscribe registers a bare e-mail address. Display-name forms such as
// "Ana <ana@example.com>" are rejected.
func (s *NewsletterService) Subscribe(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" || !strings.Contains(domainPart(email), ".") {
		return ErrInvalidEmail
	}

	err = s.db.AddNewsletterSubscriber(ctx, email)
	if errors.Is(err, port.ErrDuplicateEmail) {
		return ErrAlreadySubscribed
	}
	if err != nil {
		return fmt.Errorf("%w: add subscriber: %w", ErrStoreFault, err)
	}

	logging.FromContextOr(ctx, s.logger).Info("newsletter_subscribed")
	return nil
}

func domainPart(email string) string {
	if at := strings.LastIndexByte(email, '@'); at >= 0 {
		return email[at+1:]
	}
	return ""
}
