package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/medibook/medibook/internal/platform/apperr"
)

// Catalog is the location list loaded once at startup. It is never
// mutated afterwards, so concurrent readers need no locking.
type Catalog struct {
	locations []Location
	byID      map[uuid.UUID]int
}

// NewCatalog loads every location from repo and builds the snapshot.
func NewCatalog(ctx context.Context, repo LocationRepository) (*Catalog, error) {
	locs, err := repo.ListLocations(ctx)
	if err != nil {
		return nil, fmt.Errorf("load locations: %w", err)
	}
	out := make([]Location, 0, len(locs))
	for _, l := range locs {
		out = append(out, *l)
	}
	return NewCatalogFrom(out)
}

// NewCatalogFrom builds a snapshot from an in-memory list. Locations with a
// tier other than 1 or 2 are rejected.
func NewCatalogFrom(locs []Location) (*Catalog, error) {
	c := &Catalog{
		locations: make([]Location, len(locs)),
		byID:      make(map[uuid.UUID]int, len(locs)),
	}
	copy(c.locations, locs)
	for _, l := range c.locations {
		if !l.Tier.Valid() {
			return nil, fmt.Errorf("location %s (%s): invalid tier %d", l.ID, l.Name, l.Tier)
		}
	}
	sort.Slice(c.locations, func(i, j int) bool {
		a, b := c.locations[i], c.locations[j]
		if a.City != b.City {
			return a.City < b.City
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.ID.String() < b.ID.String()
	})
	for i, l := range c.locations {
		c.byID[l.ID] = i
	}
	return c, nil
}

// Locations returns the locations matching f in catalog order. The result
// is a fresh slice, never nil.
func (c *Catalog) Locations(f LocationFilter) []Location {
	out := make([]Location, 0, len(c.locations))
	for _, l := range c.locations {
		if f.City != "" && !strings.EqualFold(l.City, f.City) {
			continue
		}
		if f.Tier != 0 && l.Tier != f.Tier {
			continue
		}
		out = append(out, l)
	}
	return out
}

func (c *Catalog) Location(id uuid.UUID) (*Location, error) {
	i, ok := c.byID[id]
	if !ok {
		return nil, ErrLocationNotFound
	}
	l := c.locations[i]
	return &l, nil
}

func (c *Catalog) Len() int { return len(c.locations) }

// ServiceCatalog serves the service list from the database.
type ServiceCatalog struct {
	repo     ServiceRepository
	validate *validator.Validate
}

func NewServiceCatalog(repo ServiceRepository) *ServiceCatalog {
	return &ServiceCatalog{repo: repo, validate: validator.New()}
}

func (s *ServiceCatalog) ListServices(ctx context.Context, f ServiceFilter) ([]*Service, error) {
	if f.Mode != "" && !f.Mode.Valid() {
		return nil, apperr.Validation("invalid mode %q", f.Mode)
	}
	list, err := s.repo.List(ctx, f)
	if err != nil {
		return nil, apperr.Internal("list services", err)
	}
	if list == nil {
		list = []*Service{}
	}
	return list, nil
}

func (s *ServiceCatalog) GetService(ctx context.Context, id uuid.UUID) (*Service, error) {
	svc, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, ErrServiceNotFound) {
		return nil, apperr.NotFound("service not found")
	}
	if err != nil {
		return nil, apperr.Internal("get service", err)
	}
	return svc, nil
}

func (s *ServiceCatalog) CreateService(ctx context.Context, svc *Service) error {
	if err := s.validate.Struct(svc); err != nil {
		return apperr.Validation("invalid service: %v", err)
	}
	if err := svc.validate(); err != nil {
		return apperr.Validation("%v", err)
	}
	if err := s.repo.Create(ctx, svc); err != nil {
		return apperr.Internal("create service", err)
	}
	return nil
}
