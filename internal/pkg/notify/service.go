// internal/pkg/notify/service.go
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/your-org/marketplace-billing/internal/config"
)

// Service fans events out to every configured target in the background.
// Failures are logged and never reach the caller.
type Service struct {
	notifiers []Notifier
	timeout   time.Duration
	log       logrus.FieldLogger
	wg        sync.WaitGroup
}

// NewService builds the targets enabled in configuration
func NewService(cfg *config.Config, log logrus.FieldLogger) *Service {
	n := cfg.External.Notify

	var notifiers []Notifier
	if n.DiscordWebhookURL != "" {
		notifiers = append(notifiers, NewDiscordWebhook(n.DiscordWebhookURL, nil))
	}
	if n.SlackWebhookURL != "" {
		notifiers = append(notifiers, NewSlackWebhook(n.SlackWebhookURL, nil))
	}
	if n.RabbitMQURL != "" {
		notifiers = append(notifiers, NewAMQPPublisher(n.RabbitMQURL, n.RabbitMQQueue))
	}

	return NewServiceWith(notifiers, n.Timeout, log)
}

// NewServiceWith creates a service over explicit targets
func NewServiceWith(notifiers []Notifier, timeout time.Duration, log logrus.FieldLogger) *Service {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Service{
		notifiers: notifiers,
		timeout:   timeout,
		log:       log,
	}
}

// Publish delivers evt to every target without blocking
func (s *Service) Publish(evt Event) {
	if len(s.notifiers) == 0 {
		return
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		for _, n := range s.notifiers {
			if err := n.Notify(ctx, evt); err != nil {
				s.log.WithFields(logrus.Fields{
					"target": n.Name(),
					"kind":   evt.Kind,
				}).WithError(err).Warn("notification failed")
			}
		}
	}()
}

// Wait blocks until in-flight deliveries finish
func (s *Service) Wait() {
	s.wg.Wait()
}
