package identity

import (
	"context"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/medibook/medibook/internal/platform/apperr"
	"github.com/medibook/medibook/internal/platform/auth"
)

type Service struct {
	users    UserRepository
	doctors  DoctorRepository
	validate *validator.Validate
}

func NewService(users UserRepository, doctors DoctorRepository) *Service {
	return &Service{users: users, doctors: doctors, validate: validator.New()}
}

// LookupCaller implements auth.Directory. Users without a profile row get
// (nil, nil) so the resolver can fall back to the patient role.
func (s *Service) LookupCaller(ctx context.Context, userID uuid.UUID) (*auth.Caller, error) {
	u, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, ErrUserNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	caller := &auth.Caller{UserID: u.ID, Email: u.Email, Role: u.Role, LocationID: u.LocationID}
	if u.Role == auth.Doctor {
		d, err := s.doctors.GetByUserID(ctx, u.ID)
		switch {
		case err == nil:
			caller.DoctorID = &d.ID
			if caller.LocationID == nil {
				caller.LocationID = &d.LocationID
			}
		case !errors.Is(err, ErrDoctorNotFound):
			return nil, err
		}
	}
	return caller, nil
}

func (s *Service) Me(ctx context.Context, caller *auth.Caller) (*User, error) {
	if caller == nil {
		return nil, apperr.Unauthorized("authentication required")
	}
	u, err := s.users.GetByID(ctx, caller.UserID)
	if errors.Is(err, ErrUserNotFound) {
		return nil, apperr.NotFound("profile not found")
	}
	if err != nil {
		return nil, apperr.Internal("get profile", err)
	}
	return u, nil
}

func (s *Service) UpdateProfile(ctx context.Context, caller *auth.Caller, upd ProfileUpdate) (*User, error) {
	if caller == nil {
		return nil, apperr.Unauthorized("authentication required")
	}
	if err := s.validate.Struct(upd); err != nil {
		return nil, apperr.Validation("invalid profile: %v", err)
	}
	u, err := s.users.UpdateProfile(ctx, caller.UserID, upd)
	if errors.Is(err, ErrUserNotFound) {
		return nil, apperr.NotFound("profile not found")
	}
	if err != nil {
		return nil, apperr.Internal("update profile", err)
	}
	return u, nil
}

// -- Doctors --

func (s *Service) ListDoctors(ctx context.Context, f DoctorFilter, limit, offset int) ([]*Doctor, int, error) {
	list, total, err := s.doctors.List(ctx, f, limit, offset)
	if err != nil {
		return nil, 0, apperr.Internal("list doctors", err)
	}
	if list == nil {
		list = []*Doctor{}
	}
	return list, total, nil
}

func (s *Service) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	d, err := s.doctors.GetByID(ctx, id)
	if errors.Is(err, ErrDoctorNotFound) {
		return nil, apperr.NotFound("doctor not found")
	}
	if err != nil {
		return nil, apperr.Internal("get doctor", err)
	}
	return d, nil
}
