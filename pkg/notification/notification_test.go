package notification

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	webpush "github.com/SherClockHolmes/webpush-go"
	expo "github.com/oliveroneill/exponent-server-sdk-golang/sdk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExpo struct {
	resp expo.PushResponse
	err  error
	sent []*expo.PushMessage
}

func (f *fakeExpo) Publish(message *expo.PushMessage) (expo.PushResponse, error) {
	f.sent = append(f.sent, message)
	return f.resp, f.err
}

const testToken = "ExponentPushToken[abcdefghijklmnop]"

func TestExpoSend(t *testing.T) {
	tests := []struct {
		name    string
		token   string
		resp    expo.PushResponse
		err     error
		wantErr error
		calls   int
	}{
		{name: "ok", token: testToken, resp: expo.PushResponse{Status: "ok"}, calls: 1},
		{name: "invalid token", token: "not-a-token", wantErr: ErrInvalidToken, calls: 0},
		{
			name:    "device not registered",
			token:   testToken,
			resp:    expo.PushResponse{Status: "error", Message: "gone", Details: map[string]string{"error": "DeviceNotRegistered"}},
			wantErr: ErrDeviceNotRegistered,
			calls:   1,
		},
		{name: "transport", token: testToken, err: errors.New("dial tcp"), calls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cli := &fakeExpo{resp: tt.resp, err: tt.err}
			p := NewExpoPush(ExpoConfig{}, cli)

			err := p.Send(context.Background(), tt.token, "Emergency", "Alice needs help", map[string]string{"emergency_id": "e-1"})
			assert.Len(t, cli.sent, tt.calls)
			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			case tt.err != nil:
				assert.Error(t, err)
			default:
				require.NoError(t, err)
				assert.Equal(t, "Emergency", cli.sent[0].Title)
				assert.Equal(t, "e-1", cli.sent[0].Data["emergency_id"])
			}
		})
	}
}

func TestExpoSendCancelled(t *testing.T) {
	cli := &fakeExpo{resp: expo.PushResponse{Status: "ok"}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewExpoPush(ExpoConfig{}, cli).Send(ctx, testToken, "t", "b", nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, cli.sent)
}

func testSubscription(t *testing.T, endpoint string) Subscription {
	t.Helper()
	key, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	auth := make([]byte, 16)
	_, err = rand.Read(auth)
	require.NoError(t, err)

	return Subscription{
		Endpoint: endpoint,
		P256dh:   base64.RawURLEncoding.EncodeToString(key.PublicKey().Bytes()),
		Auth:     base64.RawURLEncoding.EncodeToString(auth),
	}
}

func TestWebPushStatusMapping(t *testing.T) {
	priv, pub, err := webpush.GenerateVAPIDKeys()
	require.NoError(t, err)

	tests := []struct {
		name    string
		status  int
		wantErr error
		fails   bool
	}{
		{name: "created", status: http.StatusCreated},
		{name: "gone", status: http.StatusGone, wantErr: ErrSubscriptionExpired},
		{name: "not found", status: http.StatusNotFound, wantErr: ErrSubscriptionExpired},
		{name: "server error", status: http.StatusInternalServerError, fails: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotTTL string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotTTL = r.Header.Get("TTL")
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			wp := NewWebPush(WebPushConfig{
				PublicKey:  pub,
				PrivateKey: priv,
				Subscriber: "mailto:ops@example.com",
			}, srv.Client())

			err := wp.Send(context.Background(), testSubscription(t, srv.URL+"/push/abc"), []byte(`{"type":"emergency_created"}`))
			assert.Equal(t, "60", gotTTL)
			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			case tt.fails:
				assert.Error(t, err)
				assert.NotErrorIs(t, err, ErrSubscriptionExpired)
			default:
				assert.NoError(t, err)
			}
		})
	}
}
