package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"SafeCircle/pkg/logger"
	"SafeCircle/pkg/notification"

	"github.com/spf13/cast"
	"go.uber.org/zap"
)

// TokenStore resolves a user's mobile push token.
type TokenStore interface {
	PushTarget(ctx context.Context, userID string) (token string, allowed bool, err error)
	// ClearPushToken forgets token only if it is still the stored one.
	ClearPushToken(ctx context.Context, userID, token string) error
}

type SubscriptionStore interface {
	Subscriptions(ctx context.Context, userID string) ([]notification.Subscription, error)
	DeleteSubscription(ctx context.Context, userID, endpoint string) error
}

type MobileSender interface {
	Send(ctx context.Context, token, title, body string, data map[string]string) error
}

type WebSender interface {
	Send(ctx context.Context, sub notification.Subscription, payload []byte) error
}

// Emitter is the realtime hub as seen by the dispatcher.
type Emitter interface {
	EmitToUser(userID, event string, data interface{}) error
}

type MobileChannel struct {
	store  TokenStore
	sender MobileSender
}

func NewMobileChannel(store TokenStore, sender MobileSender) *MobileChannel {
	return &MobileChannel{store: store, sender: sender}
}

func (*MobileChannel) Name() string { return ChannelMobile }

func (m *MobileChannel) Deliver(ctx context.Context, userID string, ev Event) (Outcome, error) {
	token, allowed, err := m.store.PushTarget(ctx, userID)
	if err != nil {
		return Failed, fmt.Errorf("load push token: %w", err)
	}
	if token == "" || !allowed {
		return Skipped, nil
	}

	err = m.sender.Send(ctx, token, ev.Title, ev.Body, pushData(ev))
	if errors.Is(err, notification.ErrDeviceNotRegistered) || errors.Is(err, notification.ErrInvalidToken) {
		if clearErr := m.store.ClearPushToken(ctx, userID, token); clearErr != nil {
			logger.Warn("notify: clear push token failed", zap.String("user_id", userID), zap.Error(clearErr))
		}
	}
	if err != nil {
		return Failed, err
	}
	return Delivered, nil
}

// pushData flattens the event into the string map push data requires.
func pushData(ev Event) map[string]string {
	data := make(map[string]string, len(ev.Data)+2)
	for k, v := range ev.Data {
		s, err := cast.ToStringE(v)
		if err != nil {
			continue
		}
		data[k] = s
	}
	data["type"] = ev.Kind
	data["emergency_id"] = ev.EmergencyID
	return data
}

type WebChannel struct {
	store  SubscriptionStore
	sender WebSender
}

func NewWebChannel(store SubscriptionStore, sender WebSender) *WebChannel {
	return &WebChannel{store: store, sender: sender}
}

func (*WebChannel) Name() string { return ChannelWeb }

type webPayload struct {
	Type        string                 `json:"type"`
	Title       string                 `json:"title"`
	Body        string                 `json:"body"`
	EmergencyID string                 `json:"emergency_id"`
	Data        map[string]interface{} `json:"data,omitempty"`
}

// Deliver tries every subscription of the user. Expired ones are deleted.
// The user counts as delivered when at least one subscription accepted.
func (w *WebChannel) Deliver(ctx context.Context, userID string, ev Event) (Outcome, error) {
	subs, err := w.store.Subscriptions(ctx, userID)
	if err != nil {
		return Failed, fmt.Errorf("load subscriptions: %w", err)
	}
	if len(subs) == 0 {
		return Skipped, nil
	}

	payload, err := json.Marshal(webPayload{
		Type:        ev.Kind,
		Title:       ev.Title,
		Body:        ev.Body,
		EmergencyID: ev.EmergencyID,
		Data:        ev.Data,
	})
	if err != nil {
		return Failed, err
	}

	var (
		delivered int
		errs      []error
	)
	for _, sub := range subs {
		err := w.sender.Send(ctx, sub, payload)
		switch {
		case err == nil:
			delivered++
		case errors.Is(err, notification.ErrSubscriptionExpired):
			if delErr := w.store.DeleteSubscription(ctx, userID, sub.Endpoint); delErr != nil {
				errs = append(errs, delErr)
			}
			logger.Info("notify: removed expired web push subscription", zap.String("user_id", userID))
			errs = append(errs, err)
		default:
			errs = append(errs, err)
		}
	}

	if delivered > 0 {
		if len(errs) > 0 {
			logger.Warn("notify: some web push subscriptions failed",
				zap.String("user_id", userID), zap.Error(errors.Join(errs...)))
		}
		return Delivered, nil
	}
	return Failed, errors.Join(errs...)
}

type RealtimeChannel struct {
	emitter Emitter
}

func NewRealtimeChannel(emitter Emitter) *RealtimeChannel {
	return &RealtimeChannel{emitter: emitter}
}

func (*RealtimeChannel) Name() string { return ChannelRealtime }

func (r *RealtimeChannel) Deliver(_ context.Context, userID string, ev Event) (Outcome, error) {
	if err := r.emitter.EmitToUser(userID, ev.Kind, ev.Payload()); err != nil {
		return Failed, err
	}
	return Delivered, nil
}
