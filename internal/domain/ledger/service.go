// internal/domain/ledger/service.go
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrEventNotFound is returned by Get for an unknown event id
var ErrEventNotFound = errors.New("webhook event not found")

// Service records which gateway events have been processed
type Service struct {
	db *gorm.DB
}

// NewService creates a new ledger service
func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// Claim reports whether the caller should process the event. A first sighting
// inserts a processing row. A row left in processing or error by an earlier
// delivery is reset to processing and reclaimed. A processed row is final.
func (s *Service) Claim(ctx context.Context, eventID, eventType string) (bool, error) {
	if eventID == "" {
		return false, fmt.Errorf("claim event: empty event id")
	}

	row := WebhookEvent{
		EventID:  eventID,
		Type:     eventType,
		Status:   EventStatusProcessing,
		Attempts: 1,
	}
	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if result.Error != nil && !errors.Is(result.Error, gorm.ErrDuplicatedKey) {
		return false, fmt.Errorf("failed to record event %s: %w", eventID, result.Error)
	}
	if result.Error == nil && result.RowsAffected == 1 {
		return true, nil
	}

	// Seen before: reclaim unless it already finished
	reclaim := s.db.WithContext(ctx).Model(&WebhookEvent{}).
		Where("event_id = ? AND status <> ?", eventID, EventStatusProcessed).
		Updates(map[string]interface{}{
			"status":     EventStatusProcessing,
			"attempts":   gorm.Expr("attempts + 1"),
			"updated_at": time.Now().UTC(),
		})
	if reclaim.Error != nil {
		return false, fmt.Errorf("failed to reclaim event %s: %w", eventID, reclaim.Error)
	}
	return reclaim.RowsAffected == 1, nil
}

// MarkProcessed finalizes the event with the handler outcome
func (s *Service) MarkProcessed(ctx context.Context, eventID, outcome string) error {
	now := time.Now().UTC()
	err := s.db.WithContext(ctx).Model(&WebhookEvent{}).
		Where("event_id = ?", eventID).
		Updates(map[string]interface{}{
			"status":       EventStatusProcessed,
			"outcome":      outcome,
			"error_detail": "",
			"processed_at": now,
			"updated_at":   now,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to mark event %s processed: %w", eventID, err)
	}
	return nil
}

// MarkError records a handler failure so the next delivery reclaims the event.
// A processed event is never demoted.
func (s *Service) MarkError(ctx context.Context, eventID string, cause error) error {
	detail := ""
	if cause != nil {
		detail = truncate(cause.Error(), maxErrorDetail)
	}
	err := s.db.WithContext(ctx).Model(&WebhookEvent{}).
		Where("event_id = ? AND status <> ?", eventID, EventStatusProcessed).
		Updates(map[string]interface{}{
			"status":       EventStatusError,
			"error_detail": detail,
			"updated_at":   time.Now().UTC(),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to mark event %s errored: %w", eventID, err)
	}
	return nil
}

// Get returns the ledger row for an event
func (s *Service) Get(ctx context.Context, eventID string) (*WebhookEvent, error) {
	var evt WebhookEvent
	if err := s.db.WithContext(ctx).Where("event_id = ?", eventID).First(&evt).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("failed to load event %s: %w", eventID, err)
	}
	return &evt, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	// Cut on a rune boundary
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
