package notification

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	expo "github.com/oliveroneill/exponent-server-sdk-golang/sdk"
)

var (
	// ErrDeviceNotRegistered means the token is dead and should be forgotten.
	ErrDeviceNotRegistered = errors.New("notification: device not registered")
	ErrInvalidToken        = errors.New("notification: invalid expo push token")
)

type ExpoConfig struct {
	AccessToken string
	Timeout     time.Duration
}

// ExpoClient is the slice of the Expo SDK we depend on, swappable in tests.
type ExpoClient interface {
	Publish(message *expo.PushMessage) (expo.PushResponse, error)
}

type ExpoPush struct {
	cfg ExpoConfig
	cli ExpoClient
}

// NewExpoPush builds a sender. A nil cli uses the SDK's HTTP client with cfg.Timeout.
func NewExpoPush(cfg ExpoConfig, cli ExpoClient) *ExpoPush {
	if cli == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		cli = expo.NewPushClient(&expo.ClientConfig{
			AccessToken: cfg.AccessToken,
			HTTPClient:  &http.Client{Timeout: timeout},
		})
	}
	return &ExpoPush{cfg: cfg, cli: cli}
}

// Send pushes one notification to one device token.
func (e *ExpoPush) Send(ctx context.Context, token, title, body string, data map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	to, err := expo.NewExponentPushToken(token)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	resp, err := e.cli.Publish(&expo.PushMessage{
		To:       []expo.ExponentPushToken{to},
		Title:    title,
		Body:     body,
		Data:     data,
		Sound:    "default",
		Priority: expo.HighPriority,
	})
	if err != nil {
		return fmt.Errorf("expo publish: %w", err)
	}
	if err := resp.ValidateResponse(); err != nil {
		var unregistered *expo.DeviceNotRegisteredError
		if errors.As(err, &unregistered) {
			return ErrDeviceNotRegistered
		}
		return fmt.Errorf("expo ticket: %w", err)
	}
	return nil
}

// ValidExpoToken reports whether token has the ExponentPushToken[...] shape.
func ValidExpoToken(token string) bool {
	_, err := expo.NewExponentPushToken(token)
	return err == nil
}
