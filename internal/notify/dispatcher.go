// Package notify fans an event out to users over every configured channel.
//
// Each (user, channel) pair is attempted in its own goroutine. A failure or
// panic in one attempt never affects another, and nothing is reported to the
// caller as an error: Dispatch only returns counts.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"SafeCircle/pkg/logger"
	"SafeCircle/pkg/metrics"

	"go.uber.org/zap"
)

const (
	ChannelMobile   = "mobile"
	ChannelWeb      = "web"
	ChannelRealtime = "realtime"
)

type Outcome string

const (
	Delivered Outcome = "delivered"
	Skipped   Outcome = "skipped"
	Failed    Outcome = "failed"
)

// Event is one notification. Title and Body feed push channels, Data is the
// realtime payload and is flattened into push data.
type Event struct {
	Kind        string
	EmergencyID string
	Title       string
	Body        string
	Data        map[string]interface{}
	// Channels restricts delivery to the named channels; empty means all.
	Channels []string
}

func (e Event) wants(channel string) bool {
	if len(e.Channels) == 0 {
		return true
	}
	for _, c := range e.Channels {
		if c == channel {
			return true
		}
	}
	return false
}

// Payload is the realtime body: Data plus emergency_id.
func (e Event) Payload() map[string]interface{} {
	out := make(map[string]interface{}, len(e.Data)+1)
	for k, v := range e.Data {
		out[k] = v
	}
	out["emergency_id"] = e.EmergencyID
	return out
}

// Channel delivers to a single user. A non-nil error is logged with the outcome.
type Channel interface {
	Name() string
	Deliver(ctx context.Context, userID string, ev Event) (Outcome, error)
}

type Counts struct {
	Attempted int `json:"attempted"`
	Delivered int `json:"delivered"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

func (c *Counts) add(o Outcome) {
	c.Attempted++
	switch o {
	case Delivered:
		c.Delivered++
	case Skipped:
		c.Skipped++
	default:
		c.Failed++
	}
}

type Result struct {
	Counts
	Channels map[string]Counts `json:"channels"`
}

type Dispatcher struct {
	channels []Channel
	metrics  *metrics.Metrics
}

func NewDispatcher(m *metrics.Metrics, channels ...Channel) *Dispatcher {
	return &Dispatcher{channels: channels, metrics: m}
}

func (d *Dispatcher) Channels() []string {
	names := make([]string, 0, len(d.channels))
	for _, ch := range d.channels {
		names = append(names, ch.Name())
	}
	return names
}

type attempt struct {
	channel string
	outcome Outcome
}

// Dispatch blocks until every attempt has finished. Duplicate and empty
// target ids are ignored.
func (d *Dispatcher) Dispatch(ctx context.Context, targets []string, ev Event) Result {
	start := time.Now()
	users := uniqueTargets(targets)
	channels := make([]Channel, 0, len(d.channels))
	for _, ch := range d.channels {
		if ev.wants(ch.Name()) {
			channels = append(channels, ch)
		}
	}

	results := make(chan attempt, len(users)*len(channels))
	var wg sync.WaitGroup
	for _, userID := range users {
		for _, ch := range channels {
			wg.Add(1)
			go func(userID string, ch Channel) {
				defer wg.Done()
				results <- attempt{channel: ch.Name(), outcome: d.deliver(ctx, ch, userID, ev)}
			}(userID, ch)
		}
	}
	wg.Wait()
	close(results)

	res := Result{Channels: make(map[string]Counts, len(channels))}
	for _, ch := range channels {
		res.Channels[ch.Name()] = Counts{}
	}
	for a := range results {
		res.add(a.outcome)
		c := res.Channels[a.channel]
		c.add(a.outcome)
		res.Channels[a.channel] = c
	}

	d.metrics.ObserveDispatch(time.Since(start))
	logger.Debug("notify: dispatch finished",
		zap.String("event", ev.Kind),
		zap.String("emergency_id", ev.EmergencyID),
		zap.Int("targets", len(users)),
		zap.Int("delivered", res.Delivered),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", res.Failed),
	)
	return res
}

func (d *Dispatcher) deliver(ctx context.Context, ch Channel, userID string, ev Event) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			outcome = Failed
			logger.Error("notify: channel panicked",
				zap.String("channel", ch.Name()),
				zap.String("user_id", userID),
				zap.String("event", ev.Kind),
				zap.String("panic", fmt.Sprint(r)),
			)
		}
		d.metrics.RecordNotification(ch.Name(), string(outcome))
	}()

	outcome, err := ch.Deliver(ctx, userID, ev)
	if err != nil {
		if outcome == "" || outcome == Delivered {
			outcome = Failed
		}
		logger.Warn("notify: delivery failed",
			zap.String("channel", ch.Name()),
			zap.String("user_id", userID),
			zap.String("event", ev.Kind),
			zap.String("outcome", string(outcome)),
			zap.Error(err),
		)
	}
	if outcome == "" {
		outcome = Failed
	}
	return outcome
}

func uniqueTargets(targets []string) []string {
	seen := make(map[string]struct{}, len(targets))
	out := make([]string, 0, len(targets))
	for _, id := range targets {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
