// Package emergency coordinates the emergency lifecycle: creation and contact
// fan-out, participant responses, location sharing, escalation and closing.
package emergency

import (
	"context"
	"fmt"
	"sync"
	"time"

	"SafeCircle/internal/location"
	"SafeCircle/internal/models"
	"SafeCircle/internal/notify"
	"SafeCircle/pkg/errors"
	"SafeCircle/pkg/logger"
	"SafeCircle/pkg/metrics"
	"SafeCircle/pkg/websocket"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// maxClockSkew bounds how far in the future a client timestamp may be.
const maxClockSkew = time.Minute

type Dispatcher interface {
	Dispatch(ctx context.Context, targets []string, ev notify.Event) notify.Result
}

type Broadcaster interface {
	Emit(room, event string, data interface{}) error
}

// ContactSource lists a user's accepted emergency contacts.
type ContactSource interface {
	ListActiveContacts(ctx context.Context, userID string) ([]models.Contact, error)
}

type gormContacts struct{ db *gorm.DB }

func (g gormContacts) ListActiveContacts(ctx context.Context, userID string) ([]models.Contact, error) {
	return models.ListActiveContacts(g.db.WithContext(ctx), userID)
}

type Service struct {
	db         *gorm.DB
	contacts   ContactSource
	dispatcher Dispatcher
	hub        Broadcaster
	metrics    *metrics.Metrics

	// background dispatches still running
	inflight sync.WaitGroup
}

type Option func(*Service)

// WithContacts replaces the database contact list.
func WithContacts(source ContactSource) Option {
	return func(s *Service) { s.contacts = source }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func NewService(db *gorm.DB, dispatcher Dispatcher, hub Broadcaster, opts ...Option) *Service {
	s := &Service{
		db:         db,
		contacts:   gormContacts{db: db},
		dispatcher: dispatcher,
		hub:        hub,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Wait blocks until every background dispatch has finished.
func (s *Service) Wait() {
	s.inflight.Wait()
}

// CreateResult is the new emergency with the participants invited to it.
type CreateResult struct {
	Emergency    *models.Emergency    `json:"emergency"`
	Participants []models.Participant `json:"participants"`
}

// Create opens an emergency for creatorID and invites every registered
// contact as a pending participant. Contacts are notified in the background.
// A failure after the emergency row exists is logged, never returned: the
// creator always gets their emergency.
func (s *Service) Create(ctx context.Context, creatorID string) (*CreateResult, error) {
	db := s.db.WithContext(ctx)
	e, err := models.CreateEmergency(db, creatorID)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordEmergencyEvent(EventCreated)
	result := &CreateResult{Emergency: e, Participants: []models.Participant{}}

	targets, err := s.resolveContacts(ctx, creatorID)
	if err != nil {
		logger.Error("emergency: resolve contacts failed",
			zap.String("emergency_id", e.ID),
			zap.String("user_id", creatorID),
			zap.Error(err))
		return result, nil
	}

	invited := make([]string, 0, len(targets))
	for _, userID := range targets {
		p, _, err := models.AddParticipant(db, e.ID, userID)
		if err != nil {
			logger.Error("emergency: add participant failed",
				zap.String("emergency_id", e.ID),
				zap.String("user_id", userID),
				zap.Error(err))
			continue
		}
		result.Participants = append(result.Participants, *p)
		invited = append(invited, userID)
	}

	name := s.displayName(ctx, creatorID)
	s.dispatchAsync(ctx, invited, notify.Event{
		Kind:        EventCreated,
		EmergencyID: e.ID,
		Title:       "Emergency alert",
		Body:        fmt.Sprintf("%s needs help", name),
		Data: map[string]interface{}{
			"creator_id":   creatorID,
			"creator_name": name,
			"created_at":   e.CreatedAt,
		},
	})

	logger.Info("emergency: created",
		zap.String("emergency_id", e.ID),
		zap.String("user_id", creatorID),
		zap.Int("participants", len(invited)))
	return result, nil
}

func (s *Service) resolveContacts(ctx context.Context, creatorID string) ([]string, error) {
	contacts, err := s.contacts.ListActiveContacts(ctx, creatorID)
	if err != nil {
		return nil, err
	}
	return models.ResolveContactUserIDs(s.db.WithContext(ctx), creatorID, contacts)
}

func (s *Service) displayName(ctx context.Context, userID string) string {
	user, err := models.GetUserByID(s.db.WithContext(ctx), userID)
	if err != nil || user.DisplayName == "" {
		return "Someone in your circle"
	}
	return user.DisplayName
}

// Respond records a participant's accept or reject. The emergency must be
// active and the caller must hold a participant row. Re-responding is allowed.
func (s *Service) Respond(ctx context.Context, emergencyID, userID, status string) (*models.Participant, error) {
	next, err := models.ParseResponse(status)
	if err != nil {
		return nil, err
	}
	db := s.db.WithContext(ctx)
	e, err := s.activeEmergency(db, emergencyID)
	if err != nil {
		return nil, err
	}
	if _, err := models.FindParticipant(db, emergencyID, userID); err != nil {
		if errors.IsCode(err, errors.CodeNotFound) {
			return nil, errors.Forbidden(errors.ReasonNotParticipant, "not a participant of this emergency")
		}
		return nil, err
	}

	p, err := models.UpdateParticipantStatus(db, emergencyID, userID, next)
	if err != nil {
		return nil, err
	}

	event, verb := EventParticipantRejected, "declined"
	if next == models.ParticipantAccepted {
		event, verb = EventParticipantAccepted, "is on the way"
	}
	s.metrics.RecordEmergencyEvent(event)

	payload := map[string]interface{}{
		"emergency_id": emergencyID,
		"user_id":      userID,
		"status":       p.Status,
		"joined_at":    p.JoinedAt,
	}
	s.emit(emergencyID, event, payload)

	// the creator also hears it on their user room, joined or not
	name := s.displayName(ctx, userID)
	s.dispatchAsync(ctx, []string{e.CreatorUserID}, notify.Event{
		Kind:        event,
		EmergencyID: emergencyID,
		Title:       "Emergency update",
		Body:        fmt.Sprintf("%s %s", name, verb),
		Data:        map[string]interface{}{"user_id": userID, "status": string(p.Status)},
	})
	return p, nil
}

// LocationInput is one reported position. RecordedAt defaults to now.
type LocationInput struct {
	Latitude   float64    `json:"latitude"`
	Longitude  float64    `json:"longitude"`
	Accuracy   *float64   `json:"accuracy,omitempty"`
	RecordedAt *time.Time `json:"recordedAt,omitempty"`
}

// ReportLocation stores a sample from the creator or an accepted participant
// and broadcasts it to the room. Fallback coordinates are rejected; coarse
// accuracy is stored and flagged.
func (s *Service) ReportLocation(ctx context.Context, emergencyID, userID string, in LocationInput) (*models.LocationSample, error) {
	db := s.db.WithContext(ctx)
	e, err := s.activeEmergency(db, emergencyID)
	if err != nil {
		return nil, err
	}
	if err := s.requireContributor(db, e, userID); err != nil {
		return nil, err
	}

	verdict := location.Validate(in.Latitude, in.Longitude)
	if !verdict.Accepted {
		s.metrics.RecordLocationRejected(verdict.Reason)
		logger.Info("emergency: location rejected",
			zap.String("emergency_id", emergencyID),
			zap.String("user_id", userID),
			zap.String("reason", verdict.Reason),
			zap.String("band", string(verdict.Band)))
		return nil, verdict.Err()
	}
	flagged := location.Flagged(in.Accuracy)
	if flagged {
		logger.Warn("emergency: low accuracy location",
			zap.String("emergency_id", emergencyID),
			zap.String("user_id", userID),
			zap.Float64("accuracy", *in.Accuracy))
	}

	sample := &models.LocationSample{
		EmergencyID: emergencyID,
		UserID:      userID,
		Latitude:    in.Latitude,
		Longitude:   in.Longitude,
		Accuracy:    in.Accuracy,
		RecordedAt:  recordedAt(in.RecordedAt, time.Now()),
	}
	if err := models.CreateLocationSample(db, sample); err != nil {
		return nil, err
	}
	s.metrics.RecordLocationAccepted(flagged)

	s.emit(emergencyID, EventLocationUpdate, map[string]interface{}{
		"emergency_id": emergencyID,
		"user_id":      userID,
		"latitude":     sample.Latitude,
		"longitude":    sample.Longitude,
		"accuracy":     sample.Accuracy,
		"recorded_at":  sample.RecordedAt,
		"low_accuracy": flagged,
	})
	return sample, nil
}

// recordedAt trusts a client timestamp unless it is missing or ahead of now.
func recordedAt(reported *time.Time, now time.Time) time.Time {
	if reported == nil || reported.IsZero() || reported.After(now.Add(maxClockSkew)) {
		return now.UTC()
	}
	return reported.UTC()
}

// End closes the emergency as resolved. Only the creator may end it;
// ending twice is a successful no-op that notifies nobody.
func (s *Service) End(ctx context.Context, emergencyID, requesterID string) (*models.Emergency, error) {
	return s.close(ctx, emergencyID, requesterID, models.EndEmergency, EventEnded, "The emergency has been resolved")
}

// Cancel closes the emergency as a false alarm.
func (s *Service) Cancel(ctx context.Context, emergencyID, requesterID string) (*models.Emergency, error) {
	return s.close(ctx, emergencyID, requesterID, models.CancelEmergency, EventCancelled, "The emergency was cancelled")
}

type closeFunc func(db *gorm.DB, id, requesterID string) (*models.Emergency, bool, error)

func (s *Service) close(ctx context.Context, emergencyID, requesterID string, fn closeFunc, event, body string) (*models.Emergency, error) {
	db := s.db.WithContext(ctx)
	e, changed, err := fn(db, emergencyID, requesterID)
	if err != nil {
		return nil, err
	}
	if !changed {
		return e, nil
	}
	s.metrics.RecordEmergencyEvent(event)

	s.emit(emergencyID, event, map[string]interface{}{
		"emergency_id": emergencyID,
		"status":       e.Status,
		"ended_at":     e.EndedAt,
	})

	targets, err := models.ParticipantUserIDs(db, emergencyID, models.ParticipantPending, models.ParticipantAccepted)
	if err != nil {
		logger.Error("emergency: list participants for close failed",
			zap.String("emergency_id", emergencyID), zap.Error(err))
		return e, nil
	}
	// room subscribers already got the realtime event
	s.dispatchAsync(ctx, targets, notify.Event{
		Kind:        event,
		EmergencyID: emergencyID,
		Title:       "Emergency closed",
		Body:        body,
		Data:        map[string]interface{}{"status": string(e.Status)},
		Channels:    []string{notify.ChannelMobile, notify.ChannelWeb},
	})
	logger.Info("emergency: closed",
		zap.String("emergency_id", emergencyID),
		zap.String("status", string(e.Status)))
	return e, nil
}

// Escalate raises the alarm in the room. Nothing is persisted: the stored
// status stays active.
func (s *Service) Escalate(ctx context.Context, emergencyID, requesterID, reason string) error {
	db := s.db.WithContext(ctx)
	e, err := s.activeEmergency(db, emergencyID)
	if err != nil {
		return err
	}
	if err := s.requireContributor(db, e, requesterID); err != nil {
		return err
	}
	s.metrics.RecordEmergencyEvent(EventEscalated)

	logger.Warn("emergency: escalated",
		zap.String("emergency_id", emergencyID),
		zap.String("user_id", requesterID),
		zap.String("reason", reason))
	s.emit(emergencyID, EventEscalated, map[string]interface{}{
		"emergency_id": emergencyID,
		"user_id":      requesterID,
		"reason":       reason,
		"status":       models.EmergencyEscalated,
	})
	return nil
}

// Details is the full view a member loads when opening an emergency.
type Details struct {
	Emergency    *models.Emergency        `json:"emergency"`
	Participants []models.ParticipantView `json:"participants"`
	Locations    []models.LocationSample  `json:"locations"`
}

func (s *Service) Get(ctx context.Context, emergencyID, viewerID string) (*Details, error) {
	db := s.db.WithContext(ctx)
	e, err := s.memberEmergency(db, emergencyID, viewerID)
	if err != nil {
		return nil, err
	}
	participants, err := models.ListParticipants(db, emergencyID)
	if err != nil {
		return nil, err
	}
	locations, err := models.LatestLocations(db, emergencyID)
	if err != nil {
		return nil, err
	}
	return &Details{Emergency: e, Participants: participants, Locations: locations}, nil
}

// Active returns the caller's active emergency, nil when there is none.
func (s *Service) Active(ctx context.Context, userID string) (*models.Emergency, error) {
	return models.FindActiveEmergency(s.db.WithContext(ctx), userID)
}

func (s *Service) List(ctx context.Context, userID string, limit int) ([]models.Emergency, error) {
	return models.ListEmergenciesForUser(s.db.WithContext(ctx), userID, limit)
}

func (s *Service) Participants(ctx context.Context, emergencyID, viewerID string) ([]models.ParticipantView, error) {
	db := s.db.WithContext(ctx)
	if _, err := s.memberEmergency(db, emergencyID, viewerID); err != nil {
		return nil, err
	}
	return models.ListParticipants(db, emergencyID)
}

// LatestLocations returns the newest sample of every user in the emergency.
func (s *Service) LatestLocations(ctx context.Context, emergencyID, viewerID string) ([]models.LocationSample, error) {
	db := s.db.WithContext(ctx)
	if _, err := s.memberEmergency(db, emergencyID, viewerID); err != nil {
		return nil, err
	}
	return models.LatestLocations(db, emergencyID)
}

// Trail returns one user's samples since the given time, oldest first.
func (s *Service) Trail(ctx context.Context, emergencyID, viewerID, userID string, since time.Time, limit int) ([]models.LocationSample, error) {
	db := s.db.WithContext(ctx)
	if _, err := s.memberEmergency(db, emergencyID, viewerID); err != nil {
		return nil, err
	}
	return models.LocationTrail(db, emergencyID, userID, since, limit)
}

// AuthorizeJoin is the hub's room join check: any member may subscribe.
func (s *Service) AuthorizeJoin(ctx context.Context, userID, emergencyID string) error {
	_, err := s.memberEmergency(s.db.WithContext(ctx), emergencyID, userID)
	return err
}

func (s *Service) activeEmergency(db *gorm.DB, emergencyID string) (*models.Emergency, error) {
	e, err := models.FindEmergencyByID(db, emergencyID)
	if err != nil {
		return nil, err
	}
	if !e.IsActive() {
		return nil, errors.Conflict(errors.ReasonEmergencyInactive, "emergency is not active")
	}
	return e, nil
}

func (s *Service) memberEmergency(db *gorm.DB, emergencyID, userID string) (*models.Emergency, error) {
	e, err := models.FindEmergencyByID(db, emergencyID)
	if err != nil {
		return nil, err
	}
	m, err := models.MembershipOf(db, e, userID)
	if err != nil {
		return nil, err
	}
	if !m.Member() {
		return nil, errors.Forbidden(errors.ReasonNotParticipant, "not a participant of this emergency")
	}
	return e, nil
}

func (s *Service) requireContributor(db *gorm.DB, e *models.Emergency, userID string) error {
	m, err := models.MembershipOf(db, e, userID)
	if err != nil {
		return err
	}
	if !m.Contributor() {
		return errors.Forbidden(errors.ReasonNotParticipant, "only the creator and accepted participants may do this")
	}
	return nil
}

func (s *Service) emit(emergencyID, event string, payload map[string]interface{}) {
	if s.hub == nil {
		return
	}
	if err := s.hub.Emit(websocket.EmergencyRoom(emergencyID), event, payload); err != nil {
		s.metrics.RecordRealtimeEmitFailure(event)
		logger.Warn("emergency: room broadcast failed",
			zap.String("emergency_id", emergencyID),
			zap.String("event", event),
			zap.Error(err))
	}
}

// dispatchAsync fans ev out in the background, detached from the request.
func (s *Service) dispatchAsync(ctx context.Context, targets []string, ev notify.Event) {
	if s.dispatcher == nil || len(targets) == 0 {
		return
	}
	detached := context.WithoutCancel(ctx)
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		defer func() {
			if r := recover(); r != nil {
				logger.Error("emergency: dispatch panicked",
					zap.String("emergency_id", ev.EmergencyID),
					zap.String("event", ev.Kind),
					zap.String("panic", fmt.Sprint(r)))
			}
		}()
		s.dispatcher.Dispatch(detached, targets, ev)
	}()
}
