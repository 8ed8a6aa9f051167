package notify

import (
	"context"

	"SafeCircle/internal/models"
	"SafeCircle/pkg/notification"

	"gorm.io/gorm"
)

// GormStore serves tokens and subscriptions from the users tables.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore { return &GormStore{db: db} }

func (s *GormStore) PushTarget(ctx context.Context, userID string) (string, bool, error) {
	return models.PushTarget(s.db.WithContext(ctx), userID)
}

func (s *GormStore) ClearPushToken(ctx context.Context, userID, token string) error {
	return models.ClearPushTokenIf(s.db.WithContext(ctx), userID, token)
}

func (s *GormStore) Subscriptions(ctx context.Context, userID string) ([]notification.Subscription, error) {
	rows, err := models.ListWebPushSubscriptions(s.db.WithContext(ctx), userID)
	if err != nil {
		return nil, err
	}
	subs := make([]notification.Subscription, 0, len(rows))
	for _, row := range rows {
		subs = append(subs, notification.Subscription{
			Endpoint: row.Endpoint,
			P256dh:   row.P256dh,
			Auth:     row.Auth,
		})
	}
	return subs, nil
}

func (s *GormStore) DeleteSubscription(ctx context.Context, userID, endpoint string) error {
	_, err := models.DeleteWebPushSubscription(s.db.WithContext(ctx), userID, endpoint)
	return err
}
