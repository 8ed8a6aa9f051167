package notification

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
)

// ErrSubscriptionExpired is returned for 404/410 from the push service.
var ErrSubscriptionExpired = errors.New("notification: web push subscription expired")

type WebPushConfig struct {
	PublicKey  string
	PrivateKey string
	Subscriber string
	// seconds the push service may hold the message
	TTL     int
	Timeout time.Duration
}

type Subscription struct {
	Endpoint string
	P256dh   string
	Auth     string
}

type WebPush struct {
	cfg  WebPushConfig
	http webpush.HTTPClient
}

// NewWebPush builds a VAPID sender. A nil client gets an http.Client with cfg.Timeout.
func NewWebPush(cfg WebPushConfig, client webpush.HTTPClient) *WebPush {
	if cfg.TTL <= 0 {
		cfg.TTL = 60
	}
	// the library prepends mailto: itself for non-https subscribers
	cfg.Subscriber = strings.TrimPrefix(cfg.Subscriber, "mailto:")
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &WebPush{cfg: cfg, http: client}
}

func (w *WebPush) Send(ctx context.Context, sub Subscription, payload []byte) error {
	resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			Auth:   sub.Auth,
			P256dh: sub.P256dh,
		},
	}, &webpush.Options{
		HTTPClient:      w.http,
		Subscriber:      w.cfg.Subscriber,
		VAPIDPublicKey:  w.cfg.PublicKey,
		VAPIDPrivateKey: w.cfg.PrivateKey,
		TTL:             w.cfg.TTL,
		Urgency:         webpush.UrgencyHigh,
	})
	if err != nil {
		return fmt.Errorf("web push: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return ErrSubscriptionExpired
	case resp.StatusCode >= 300:
		return fmt.Errorf("web push: push service returned %d", resp.StatusCode)
	}
	return nil
}
