package models

import (
	"strings"
	"time"

	"SafeCircle/pkg/errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type EmergencyStatus string

const (
	EmergencyActive    EmergencyStatus = "active"
	EmergencyEnded     EmergencyStatus = "ended"
	EmergencyCancelled EmergencyStatus = "cancelled"
	// Escalated is emitted as an event only and never stored.
	EmergencyEscalated EmergencyStatus = "escalated"
)

// Terminal reports whether no further transition is allowed.
func (s EmergencyStatus) Terminal() bool {
	return s == EmergencyEnded || s == EmergencyCancelled
}

// Emergency is one distress incident. At most one active row per creator.
type Emergency struct {
	ID            string          `json:"id" gorm:"primaryKey;size:36"`
	CreatorUserID string          `json:"creatorUserId" gorm:"size:36;not null;index"`
	Status        EmergencyStatus `json:"status" gorm:"size:16;not null;index"`
	CreatedAt     time.Time       `json:"createdAt"`
	EndedAt       *time.Time      `json:"endedAt,omitempty"`
}

func (Emergency) TableName() string { return "emergencies" }

func (e *Emergency) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return nil
}

func (e *Emergency) IsActive() bool {
	return e != nil && e.Status == EmergencyActive
}

// activeIndexSQL closes the check-then-insert race on the one-active-per-creator rule.
const activeIndexSQL = "CREATE UNIQUE INDEX IF NOT EXISTS idx_emergencies_one_active ON emergencies (creator_user_id) WHERE status = 'active'"

// CreateEmergency inserts a new active emergency for creatorID. An existing
// active emergency is a Conflict carrying its id under "emergency_id".
func CreateEmergency(db *gorm.DB, creatorID string) (*Emergency, error) {
	existing, err := FindActiveEmergency(db, creatorID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, activeExists(existing.ID)
	}

	emergency := &Emergency{
		CreatorUserID: creatorID,
		Status:        EmergencyActive,
		CreatedAt:     time.Now().UTC(),
	}
	if err := db.Create(emergency).Error; err != nil {
		if isUniqueViolation(err) {
			// lost the race against a concurrent create
			if winner, _ := FindActiveEmergency(db, creatorID); winner != nil {
				return nil, activeExists(winner.ID)
			}
			return nil, activeExists("")
		}
		return nil, errors.Internal(err, "create emergency")
	}
	return emergency, nil
}

func activeExists(id string) error {
	err := errors.Conflict(errors.ReasonActiveEmergencyExists, "an active emergency already exists")
	if id != "" {
		err = err.WithContext("emergency_id", id)
	}
	return err
}

// FindActiveEmergency returns the creator's active emergency or nil.
func FindActiveEmergency(db *gorm.DB, userID string) (*Emergency, error) {
	var emergency Emergency
	err := db.Where("creator_user_id = ? AND status = ?", userID, EmergencyActive).
		Order("created_at DESC").
		Take(&emergency).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Internal(err, "find active emergency")
	}
	return &emergency, nil
}

// FindEmergencyByID returns NotFound for unknown ids.
func FindEmergencyByID(db *gorm.DB, id string) (*Emergency, error) {
	var emergency Emergency
	err := db.Where("id = ?", id).Take(&emergency).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.NotFound("emergency not found")
	}
	if err != nil {
		return nil, errors.Internal(err, "find emergency")
	}
	return &emergency, nil
}

// ListEmergenciesForUser returns emergencies created by userID or where userID is a participant, newest first.
func ListEmergenciesForUser(db *gorm.DB, userID string, limit int) ([]Emergency, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var emergencies []Emergency
	sub := db.Model(&Participant{}).Select("emergency_id").Where("user_id = ?", userID)
	err := db.Where("creator_user_id = ? OR id IN (?)", userID, sub).
		Order("created_at DESC").
		Limit(limit).
		Find(&emergencies).Error
	if err != nil {
		return nil, errors.Internal(err, "list emergencies")
	}
	return emergencies, nil
}

// EndEmergency moves an active emergency to ended. See closeEmergency.
func EndEmergency(db *gorm.DB, id, requesterID string) (*Emergency, bool, error) {
	return closeEmergency(db, id, requesterID, EmergencyEnded)
}

// CancelEmergency moves an active emergency to cancelled. See closeEmergency.
func CancelEmergency(db *gorm.DB, id, requesterID string) (*Emergency, bool, error) {
	return closeEmergency(db, id, requesterID, EmergencyCancelled)
}

// closeEmergency applies a terminal transition. Only the creator may close;
// closing an already closed emergency succeeds with changed=false and leaves
// the stored row untouched.
func closeEmergency(db *gorm.DB, id, requesterID string, target EmergencyStatus) (*Emergency, bool, error) {
	emergency, err := FindEmergencyByID(db, id)
	if err != nil {
		return nil, false, err
	}
	if emergency.CreatorUserID != requesterID {
		return nil, false, errors.Forbidden(errors.ReasonNotCreator, "only the creator can close this emergency")
	}

	now := time.Now().UTC()
	res := db.Model(&Emergency{}).
		Where("id = ? AND creator_user_id = ? AND status = ?", id, requesterID, EmergencyActive).
		Updates(map[string]any{"status": target, "ended_at": now})
	if res.Error != nil {
		return nil, false, errors.Internal(res.Error, "close emergency")
	}
	if res.RowsAffected == 0 {
		current, err := FindEmergencyByID(db, id)
		if err != nil {
			return nil, false, err
		}
		return current, false, nil
	}
	emergency.Status = target
	emergency.EndedAt = &now
	return emergency, true, nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint failed") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "duplicate entry")
}
