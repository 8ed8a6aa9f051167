package chat

import (
	"context"
	"io"
	"path/filepath"
	"strings"

	"SafeCircle/internal/models"
	"SafeCircle/pkg/errors"

	"github.com/google/uuid"
)

// Upload is a file submitted for later use as a message attachment.
type Upload struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// KindForContentType maps a MIME type to an attachment kind.
func KindForContentType(contentType string) (AttachmentKind, bool) {
	major, _, _ := strings.Cut(strings.ToLower(strings.TrimSpace(contentType)), "/")
	kind := AttachmentKind(major)
	return kind, kind.Valid()
}

// UploadAttachment stores the file and returns the attachment to reference in
// a following message. Same access rules as posting a message.
func (s *Service) UploadAttachment(ctx context.Context, emergencyID, uploaderID string, up Upload) (*Attachment, error) {
	if s.files == nil {
		return nil, errors.WithCode(errors.CodeInternal, "attachment storage is not configured")
	}
	kind, ok := KindForContentType(up.ContentType)
	if !ok {
		return nil, errors.Validation(errors.ReasonInvalidAttachment, "only image, audio and video files are accepted")
	}

	db := s.db.WithContext(ctx)
	emergency, err := models.FindEmergencyByID(db, emergencyID)
	if err != nil {
		return nil, err
	}
	if !emergency.IsActive() {
		return nil, errors.Conflict(errors.ReasonEmergencyInactive, "emergency is not active")
	}
	membership, err := models.MembershipOf(db, emergency, uploaderID)
	if err != nil {
		return nil, err
	}
	if !membership.Contributor() {
		return nil, errors.Forbidden(errors.ReasonNotParticipant, "only the creator and accepted participants may upload")
	}

	key := attachmentKey(emergencyID, kind, up.Filename)
	if err := s.files.Write(ctx, key, up.Body, up.Size, up.ContentType); err != nil {
		return nil, errors.Internal(err, "store attachment")
	}
	return &Attachment{Kind: kind, URL: s.files.PublicURL(key)}, nil
}

func attachmentKey(emergencyID string, kind AttachmentKind, filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if len(ext) > 10 || strings.ContainsAny(ext, "/\\ ") {
		ext = ""
	}
	return "emergencies/" + emergencyID + "/" + string(kind) + "/" + uuid.NewString() + ext
}
