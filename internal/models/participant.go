package models

import (
	"time"

	"SafeCircle/pkg/errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ParticipantStatus string

const (
	ParticipantPending  ParticipantStatus = "pending"
	ParticipantAccepted ParticipantStatus = "accepted"
	ParticipantRejected ParticipantStatus = "rejected"
)

// ParseResponse accepts only the two statuses a participant may set.
func ParseResponse(s string) (ParticipantStatus, error) {
	switch ParticipantStatus(s) {
	case ParticipantAccepted, ParticipantRejected:
		return ParticipantStatus(s), nil
	}
	return "", errors.Validation(errors.ReasonInvalidStatus, "status must be accepted or rejected")
}

// Participant links one contact to one emergency.
type Participant struct {
	ID          string            `json:"id" gorm:"primaryKey;size:36"`
	EmergencyID string            `json:"emergencyId" gorm:"size:36;not null;uniqueIndex:idx_participant_emergency_user"`
	UserID      string            `json:"userId" gorm:"size:36;not null;uniqueIndex:idx_participant_emergency_user;index"`
	Status      ParticipantStatus `json:"status" gorm:"size:16;not null"`
	JoinedAt    *time.Time        `json:"joinedAt,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
}

func (p *Participant) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

// ParticipantView is a participant row with the user's display fields.
type ParticipantView struct {
	Participant
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
}

// AddParticipant inserts a pending row, or returns the existing one for the
// same (emergency, user). created reports whether a row was written.
func AddParticipant(db *gorm.DB, emergencyID, userID string) (*Participant, bool, error) {
	participant := &Participant{
		ID:          uuid.NewString(),
		EmergencyID: emergencyID,
		UserID:      userID,
		Status:      ParticipantPending,
		CreatedAt:   time.Now().UTC(),
	}
	res := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "emergency_id"}, {Name: "user_id"}},
		DoNothing: true,
	}).Create(participant)
	if res.Error != nil {
		return nil, false, errors.Internal(res.Error, "add participant")
	}
	if res.RowsAffected == 1 {
		return participant, true, nil
	}
	existing, err := FindParticipant(db, emergencyID, userID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// FindParticipant returns NotFound when userID has no row in the emergency.
func FindParticipant(db *gorm.DB, emergencyID, userID string) (*Participant, error) {
	var participant Participant
	err := db.Where("emergency_id = ? AND user_id = ?", emergencyID, userID).Take(&participant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.NotFound("participant not found")
	}
	if err != nil {
		return nil, errors.Internal(err, "find participant")
	}
	return &participant, nil
}

// UpdateParticipantStatus sets status. Accepting stamps joined_at, rejecting
// clears it. Callers enforce that the emergency is active and the row is theirs.
func UpdateParticipantStatus(db *gorm.DB, emergencyID, userID string, status ParticipantStatus) (*Participant, error) {
	if status != ParticipantAccepted && status != ParticipantRejected {
		return nil, errors.Validation(errors.ReasonInvalidStatus, "status must be accepted or rejected")
	}

	updates := map[string]any{"status": status, "joined_at": nil}
	if status == ParticipantAccepted {
		updates["joined_at"] = time.Now().UTC()
	}
	res := db.Model(&Participant{}).
		Where("emergency_id = ? AND user_id = ?", emergencyID, userID).
		Updates(updates)
	if res.Error != nil {
		return nil, errors.Internal(res.Error, "update participant")
	}
	if res.RowsAffected == 0 {
		return nil, errors.NotFound("participant not found")
	}
	return FindParticipant(db, emergencyID, userID)
}

// ListParticipants joins users for email and display name, oldest first.
func ListParticipants(db *gorm.DB, emergencyID string) ([]ParticipantView, error) {
	var views []ParticipantView
	err := db.Table("participants").
		Select("participants.*, users.email AS email, users.display_name AS display_name").
		Joins("LEFT JOIN users ON users.id = participants.user_id").
		Where("participants.emergency_id = ?", emergencyID).
		Order("participants.created_at ASC, participants.id ASC").
		Scan(&views).Error
	if err != nil {
		return nil, errors.Internal(err, "list participants")
	}
	return views, nil
}

// ParticipantUserIDs returns user ids in the emergency, optionally filtered by status.
func ParticipantUserIDs(db *gorm.DB, emergencyID string, statuses ...ParticipantStatus) ([]string, error) {
	q := db.Model(&Participant{}).Where("emergency_id = ?", emergencyID)
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}
	var ids []string
	if err := q.Order("created_at ASC").Pluck("user_id", &ids).Error; err != nil {
		return nil, errors.Internal(err, "list participant ids")
	}
	return ids, nil
}

// Membership describes how a user relates to an emergency.
type Membership struct {
	Creator     bool
	Participant *Participant
}

// Member reports whether the user is the creator or holds any participant row.
func (m Membership) Member() bool {
	return m.Creator || m.Participant != nil
}

// Contributor reports whether the user may post locations and messages.
func (m Membership) Contributor() bool {
	return m.Creator || (m.Participant != nil && m.Participant.Status == ParticipantAccepted)
}

// MembershipOf looks up userID's relation to emergency.
func MembershipOf(db *gorm.DB, emergency *Emergency, userID string) (Membership, error) {
	if emergency.CreatorUserID == userID {
		return Membership{Creator: true}, nil
	}
	participant, err := FindParticipant(db, emergency.ID, userID)
	if errors.IsCode(err, errors.CodeNotFound) {
		return Membership{}, nil
	}
	if err != nil {
		return Membership{}, err
	}
	return Membership{Participant: participant}, nil
}
