package documents

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medibook/medibook/internal/platform/apperr"
	"github.com/medibook/medibook/internal/platform/auth"
	"github.com/medibook/medibook/internal/platform/blobstore"
	"github.com/medibook/medibook/internal/platform/notification"
)

// DownloadURLExpiry bounds how long a listed download link stays valid.
const DownloadURLExpiry = 15 * time.Minute

type Service struct {
	repo     PrescriptionRepository
	appts    AppointmentReader
	store    blobstore.ObjectStore
	notifier AppointmentNotifier
	logger   zerolog.Logger
}

func NewService(repo PrescriptionRepository, appts AppointmentReader, store blobstore.ObjectStore, notifier AppointmentNotifier, logger zerolog.Logger) *Service {
	return &Service{repo: repo, appts: appts, store: store, notifier: notifier, logger: logger}
}

// UploadPrescription stores body for the appointment. Only the doctor the
// appointment is booked with may upload.
func (s *Service) UploadPrescription(ctx context.Context, caller *auth.Caller, appointmentID uuid.UUID, in Upload, body io.Reader) (*Prescription, error) {
	appt, err := s.appts.GetAppointment(ctx, caller, appointmentID)
	if err != nil {
		return nil, err
	}
	if caller.Role != auth.Doctor || caller.DoctorID == nil || *caller.DoctorID != appt.DoctorID {
		return nil, apperr.Forbidden("only the appointment's doctor can upload prescriptions")
	}

	contentType := strings.ToLower(strings.TrimSpace(strings.Split(in.ContentType, ";")[0]))
	if err := blobstore.Validate(contentType, in.Size); err != nil {
		switch {
		case errors.Is(err, blobstore.ErrFileTooLarge):
			return nil, apperr.Validation("file must be at most %d MB", blobstore.MaxFileSize>>20)
		case errors.Is(err, blobstore.ErrEmptyFile):
			return nil, apperr.Validation("file is empty")
		}
		return nil, apperr.Validation("file must be a PDF, PNG or JPEG")
	}

	key := blobstore.ObjectKey(path.Join("prescriptions", appointmentID.String()), contentType)
	obj, err := s.store.Put(ctx, key, body, in.Size, contentType)
	if err != nil {
		if errors.Is(err, blobstore.ErrFileTooLarge) {
			return nil, apperr.Validation("file must be at most %d MB", blobstore.MaxFileSize>>20)
		}
		return nil, apperr.Internal("store prescription", err)
	}

	p := &Prescription{
		AppointmentID: appointmentID,
		DoctorID:      appt.DoctorID,
		ObjectKey:     obj.Key,
		FileName:      cleanFileName(in.FileName, contentType),
		ContentType:   contentType,
		SizeBytes:     obj.Size,
		Notes:         in.Notes,
	}
	if err := s.repo.Create(ctx, p); err != nil {
		if derr := s.store.Delete(context.WithoutCancel(ctx), obj.Key); derr != nil {
			s.logger.Warn().Err(derr).Str("key", obj.Key).Msg("remove orphaned prescription object")
		}
		return nil, apperr.Internal("record prescription", err)
	}

	s.logger.Info().Str("appointment_id", appointmentID.String()).Str("prescription_id", p.ID.String()).
		Int64("size", p.SizeBytes).Msg("prescription uploaded")
	if s.notifier != nil {
		s.notifier.NotifyAppointment(ctx, notification.EventPrescriptionUploaded, appointmentID, notification.Data{})
	}
	return p, nil
}

// ListPrescriptions returns the appointment's files with fresh download
// links. A file whose link cannot be signed is returned without one.
func (s *Service) ListPrescriptions(ctx context.Context, caller *auth.Caller, appointmentID uuid.UUID) ([]*Prescription, error) {
	if _, err := s.appts.GetAppointment(ctx, caller, appointmentID); err != nil {
		return nil, err
	}
	items, err := s.repo.ListByAppointment(ctx, appointmentID)
	if err != nil {
		return nil, apperr.Internal("list prescriptions", err)
	}
	if items == nil {
		items = []*Prescription{}
	}
	for _, p := range items {
		u, err := s.store.PresignedURL(ctx, p.ObjectKey, DownloadURLExpiry)
		if err != nil {
			s.logger.Warn().Err(err).Str("prescription_id", p.ID.String()).Msg("presign prescription url")
			continue
		}
		p.URL = u
	}
	return items, nil
}

func cleanFileName(name, contentType string) string {
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if name == "" || name == "." || name == "/" {
		return "prescription" + blobstore.AllowedContentTypes[contentType]
	}
	if len(name) > 255 {
		name = name[len(name)-255:]
	}
	return name
}
