// Package chat stores and broadcasts the messages exchanged inside an emergency.
package chat

import (
	"context"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"SafeCircle/internal/models"
	"SafeCircle/pkg/errors"
	"SafeCircle/pkg/logger"
	"SafeCircle/pkg/metrics"
	stores "SafeCircle/pkg/storage"
	"SafeCircle/pkg/websocket"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	EventNewMessage = "new_message"
	MaxTextLength   = 4000
)

type AttachmentKind string

const (
	KindImage AttachmentKind = "image"
	KindAudio AttachmentKind = "audio"
	KindVideo AttachmentKind = "video"
)

func (k AttachmentKind) Valid() bool {
	return k == KindImage || k == KindAudio || k == KindVideo
}

// Limiter is consulted once per posted message.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Broadcaster is the room side of the realtime hub.
type Broadcaster interface {
	Emit(room, event string, data interface{}) error
}

type Attachment struct {
	Kind AttachmentKind `json:"kind"`
	URL  string         `json:"url"`
}

// Input is a message as submitted. Text is trimmed; at least one of text and
// attachment must remain.
type Input struct {
	Text       string      `json:"text"`
	Attachment *Attachment `json:"attachment,omitempty"`
}

type Service struct {
	db      *gorm.DB
	limiter Limiter
	hub     Broadcaster
	files   stores.Store
	metrics *metrics.Metrics
}

func NewService(db *gorm.DB, limiter Limiter, hub Broadcaster, files stores.Store, m *metrics.Metrics) *Service {
	return &Service{db: db, limiter: limiter, hub: hub, files: files, metrics: m}
}

// PostMessage checks the sender's rate first, then the emergency, then the
// sender's role, then the content. The message is stored before it is
// broadcast; a broadcast failure is logged and the stored message returned.
func (s *Service) PostMessage(ctx context.Context, emergencyID, senderID string, in Input) (*models.Message, error) {
	if s.limiter != nil {
		ok, err := s.limiter.Allow(ctx, "chat:"+senderID)
		if err != nil {
			logger.Warn("chat: limiter unavailable", zap.String("user_id", senderID), zap.Error(err))
		} else if !ok {
			return nil, errors.RateLimited("too many messages, slow down")
		}
	}

	db := s.db.WithContext(ctx)
	emergency, err := models.FindEmergencyByID(db, emergencyID)
	if err != nil {
		return nil, err
	}
	if !emergency.IsActive() {
		return nil, errors.Conflict(errors.ReasonEmergencyInactive, "emergency is not active")
	}
	membership, err := models.MembershipOf(db, emergency, senderID)
	if err != nil {
		return nil, err
	}
	if !membership.Contributor() {
		return nil, errors.Forbidden(errors.ReasonNotParticipant, "only the creator and accepted participants may post")
	}

	message, err := buildMessage(emergencyID, senderID, in)
	if err != nil {
		return nil, err
	}
	if err := models.CreateMessage(db, message); err != nil {
		return nil, err
	}
	s.metrics.RecordMessage()

	if s.hub != nil {
		payload := map[string]interface{}{"emergency_id": emergencyID, "message": message}
		if err := s.hub.Emit(websocket.EmergencyRoom(emergencyID), EventNewMessage, payload); err != nil {
			s.metrics.RecordRealtimeEmitFailure(EventNewMessage)
			logger.Warn("chat: broadcast failed",
				zap.String("emergency_id", emergencyID),
				zap.String("message_id", message.ID),
				zap.Error(err))
		}
	}
	return message, nil
}

func buildMessage(emergencyID, senderID string, in Input) (*models.Message, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" && in.Attachment == nil {
		return nil, errors.Validation(errors.ReasonEmptyMessage, "message needs text or an attachment")
	}
	if utf8.RuneCountInString(text) > MaxTextLength {
		return nil, errors.Validation(errors.ReasonMessageTooLong, "message text is limited to 4000 characters")
	}

	message := &models.Message{EmergencyID: emergencyID, UserID: senderID}
	if text != "" {
		message.Text = &text
	}
	if in.Attachment != nil {
		if err := validateAttachment(in.Attachment); err != nil {
			return nil, err
		}
		u := in.Attachment.URL
		switch in.Attachment.Kind {
		case KindImage:
			message.ImageURL = &u
		case KindAudio:
			message.AudioURL = &u
		case KindVideo:
			message.VideoURL = &u
		}
	}
	return message, nil
}

func validateAttachment(a *Attachment) error {
	if !a.Kind.Valid() {
		return errors.Validation(errors.ReasonInvalidAttachment, "attachment kind must be image, audio or video")
	}
	u, err := url.Parse(strings.TrimSpace(a.URL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.Validation(errors.ReasonInvalidAttachment, "attachment url must be an absolute http(s) url")
	}
	return nil
}

// ListMessages returns the emergency's messages oldest first to any member,
// including after the emergency closed.
func (s *Service) ListMessages(ctx context.Context, emergencyID, viewerID string, before time.Time, limit int) ([]models.Message, error) {
	db := s.db.WithContext(ctx)
	emergency, err := models.FindEmergencyByID(db, emergencyID)
	if err != nil {
		return nil, err
	}
	membership, err := models.MembershipOf(db, emergency, viewerID)
	if err != nil {
		return nil, err
	}
	if !membership.Member() {
		return nil, errors.Forbidden(errors.ReasonNotParticipant, "not a participant of this emergency")
	}
	return models.ListMessages(db, emergencyID, before, limit)
}
