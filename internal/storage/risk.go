package storage

import (
	"context"
	"fmt"

	"alpha_executor/internal/models"
)

func (s *Store) RecordRiskEvent(ctx context.Context, ev *models.RiskEvent) error {
	if err := s.db.WithContext(ctx).Create(ev).Error; err != nil {
		return fmt.Errorf("storage: record risk event: %w", err)
	}
	return nil
}

// ListRiskEvents returns the events for one bot, newest first. botID 0 lists all.
func (s *Store) ListRiskEvents(ctx context.Context, botID int64) ([]models.RiskEvent, error) {
	q := s.db.WithContext(ctx).Order("created_at DESC")
	if botID != 0 {
		q = q.Where("bot_config_id = ?", botID)
	}
	var events []models.RiskEvent
	if err := q.Find(&events).Error; err != nil {
		return nil, fmt.Errorf("storage: list risk events: %w", err)
	}
	return events, nil
}
