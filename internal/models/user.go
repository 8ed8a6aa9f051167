package models

import (
	"strings"
	"time"

	"SafeCircle/pkg/errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// User is owned by the account service. Only the fields read here are mapped.
type User struct {
	ID                  string    `json:"id" gorm:"primaryKey;size:36"`
	Email               string    `json:"email" gorm:"size:255;uniqueIndex"`
	DisplayName         string    `json:"displayName" gorm:"size:128"`
	Role                string    `json:"role" gorm:"size:32;default:user"`
	PushToken           *string   `json:"-" gorm:"size:255"`
	AllowsNotifications bool      `json:"allowsNotifications" gorm:"default:true"`
	CreatedAt           time.Time `json:"createdAt"`
	UpdatedAt           time.Time `json:"updatedAt"`
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}

type ContactStatus string

const (
	ContactPending  ContactStatus = "pending"
	ContactAccepted ContactStatus = "accepted"
	ContactBlocked  ContactStatus = "blocked"
)

// Contact is an entry in a user's emergency contact list.
type Contact struct {
	ID            uint          `json:"id" gorm:"primaryKey"`
	OwnerUserID   string        `json:"ownerUserId" gorm:"size:36;not null;index"`
	ContactUserID *string       `json:"contactUserId,omitempty" gorm:"size:36"`
	ContactName   string        `json:"contactName" gorm:"size:128"`
	ContactEmail  string        `json:"contactEmail" gorm:"size:255"`
	Status        ContactStatus `json:"status" gorm:"size:16;not null;default:accepted"`
	CreatedAt     time.Time     `json:"createdAt"`
}

// WebPushSubscription is a browser push endpoint registered by a user.
type WebPushSubscription struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	UserID    string    `json:"userId" gorm:"size:36;not null;index"`
	Endpoint  string    `json:"endpoint" gorm:"size:768;not null;uniqueIndex"`
	P256dh    string    `json:"p256dh" gorm:"size:255;not null"`
	Auth      string    `json:"auth" gorm:"size:255;not null"`
	CreatedAt time.Time `json:"createdAt"`
}

func GetUserByID(db *gorm.DB, id string) (*User, error) {
	var user User
	err := db.Where("id = ?", id).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.NotFound("user not found")
	}
	if err != nil {
		return nil, errors.Internal(err, "find user")
	}
	return &user, nil
}

// ListActiveContacts returns the owner's accepted contacts.
func ListActiveContacts(db *gorm.DB, ownerID string) ([]Contact, error) {
	var contacts []Contact
	err := db.Where("owner_user_id = ? AND status = ?", ownerID, ContactAccepted).
		Order("id ASC").
		Find(&contacts).Error
	if err != nil {
		return nil, errors.Internal(err, "list contacts")
	}
	return contacts, nil
}

// ResolveContactUserIDs maps contacts to registered user ids. A linked
// contact_user_id wins, otherwise the email is matched case-insensitively.
// Unregistered contacts, the owner and duplicates are dropped.
func ResolveContactUserIDs(db *gorm.DB, ownerID string, contacts []Contact) ([]string, error) {
	var ids []string
	seen := map[string]struct{}{ownerID: {}}
	add := func(id string) {
		if _, ok := seen[id]; ok || id == "" {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	var emails []string
	for _, c := range contacts {
		if c.ContactUserID != nil && *c.ContactUserID != "" {
			continue
		}
		if e := strings.ToLower(strings.TrimSpace(c.ContactEmail)); e != "" {
			emails = append(emails, e)
		}
	}
	byEmail := map[string]string{}
	if len(emails) > 0 {
		var users []User
		if err := db.Select("id", "email").Where("LOWER(email) IN ?", emails).Find(&users).Error; err != nil {
			return nil, errors.Internal(err, "resolve contacts")
		}
		for _, u := range users {
			byEmail[strings.ToLower(u.Email)] = u.ID
		}
	}

	var linked []string
	for _, c := range contacts {
		if c.ContactUserID != nil && *c.ContactUserID != "" {
			linked = append(linked, *c.ContactUserID)
		}
	}
	registered := map[string]struct{}{}
	if len(linked) > 0 {
		var found []string
		if err := db.Model(&User{}).Where("id IN ?", linked).Pluck("id", &found).Error; err != nil {
			return nil, errors.Internal(err, "resolve contacts")
		}
		for _, id := range found {
			registered[id] = struct{}{}
		}
	}

	for _, c := range contacts {
		if c.ContactUserID != nil && *c.ContactUserID != "" {
			if _, ok := registered[*c.ContactUserID]; ok {
				add(*c.ContactUserID)
			}
			continue
		}
		add(byEmail[strings.ToLower(strings.TrimSpace(c.ContactEmail))])
	}
	return ids, nil
}

// PushTarget returns the user's device token and whether they accept pushes.
func PushTarget(db *gorm.DB, userID string) (string, bool, error) {
	var user User
	err := db.Select("id", "push_token", "allows_notifications").Where("id = ?", userID).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Internal(err, "load push token")
	}
	if user.PushToken == nil {
		return "", user.AllowsNotifications, nil
	}
	return *user.PushToken, user.AllowsNotifications, nil
}

// SetPushToken stores token for userID. An empty token clears it.
func SetPushToken(db *gorm.DB, userID, token string) error {
	var value any
	if token != "" {
		value = token
	}
	res := db.Model(&User{}).Where("id = ?", userID).Update("push_token", value)
	if res.Error != nil {
		return errors.Internal(res.Error, "save push token")
	}
	if res.RowsAffected == 0 {
		return errors.NotFound("user not found")
	}
	return nil
}

// ClearPushTokenIf removes token only if it is still the stored one, so a
// token registered meanwhile survives a stale invalidation.
func ClearPushTokenIf(db *gorm.DB, userID, token string) error {
	err := db.Model(&User{}).
		Where("id = ? AND push_token = ?", userID, token).
		Update("push_token", nil).Error
	if err != nil {
		return errors.Internal(err, "clear push token")
	}
	return nil
}

func ListWebPushSubscriptions(db *gorm.DB, userID string) ([]WebPushSubscription, error) {
	var subs []WebPushSubscription
	if err := db.Where("user_id = ?", userID).Order("id ASC").Find(&subs).Error; err != nil {
		return nil, errors.Internal(err, "list web push subscriptions")
	}
	return subs, nil
}

// SaveWebPushSubscription upserts by endpoint; a browser re-subscribing moves the endpoint to userID.
func SaveWebPushSubscription(db *gorm.DB, sub *WebPushSubscription) error {
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "endpoint"}},
		DoUpdates: clause.AssignmentColumns([]string{"user_id", "p256dh", "auth"}),
	}).Create(sub).Error
	if err != nil {
		return errors.Internal(err, "save web push subscription")
	}
	return nil
}

// DeleteWebPushSubscription removes endpoint. An empty userID skips the owner check.
func DeleteWebPushSubscription(db *gorm.DB, userID, endpoint string) (bool, error) {
	q := db.Where("endpoint = ?", endpoint)
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	res := q.Delete(&WebPushSubscription{})
	if res.Error != nil {
		return false, errors.Internal(res.Error, "delete web push subscription")
	}
	return res.RowsAffected > 0, nil
}
