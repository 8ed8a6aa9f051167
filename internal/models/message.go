package models

import (
	"time"

	"SafeCircle/pkg/errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Message is an immutable chat entry inside an emergency.
type Message struct {
	ID          string    `json:"id" gorm:"primaryKey;size:36"`
	EmergencyID string    `json:"emergencyId" gorm:"size:36;not null;index:idx_message_emergency_time,priority:1"`
	UserID      string    `json:"userId" gorm:"size:36;not null"`
	Text        *string   `json:"text,omitempty" gorm:"size:4000"`
	ImageURL    *string   `json:"imageUrl,omitempty" gorm:"size:1024"`
	AudioURL    *string   `json:"audioUrl,omitempty" gorm:"size:1024"`
	VideoURL    *string   `json:"videoUrl,omitempty" gorm:"size:1024"`
	CreatedAt   time.Time `json:"createdAt" gorm:"index:idx_message_emergency_time,priority:2"`
}

func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

func CreateMessage(db *gorm.DB, message *Message) error {
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}
	if err := db.Create(message).Error; err != nil {
		return errors.Internal(err, "save message")
	}
	return nil
}

// ListMessages returns messages oldest first. A non-zero before pages backwards.
func ListMessages(db *gorm.DB, emergencyID string, before time.Time, limit int) ([]Message, error) {
	if limit <= 0 || limit > 500 {
		limit = 200
	}
	q := db.Where("emergency_id = ?", emergencyID)
	if !before.IsZero() {
		q = q.Where("created_at < ?", before.UTC())
	}
	var messages []Message
	if err := q.Order("created_at DESC, id DESC").Limit(limit).Find(&messages).Error; err != nil {
		return nil, errors.Internal(err, "list messages")
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}
