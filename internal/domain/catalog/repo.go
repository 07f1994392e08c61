package catalog

import (
	"context"

	"github.com/google/uuid"
)

type LocationRepository interface {
	ListLocations(ctx context.Context) ([]*Location, error)
}

type ServiceRepository interface {
	Create(ctx context.Context, s *Service) error
	GetByID(ctx context.Context, id uuid.UUID) (*Service, error)
	List(ctx context.Context, filter ServiceFilter) ([]*Service, error)
}
