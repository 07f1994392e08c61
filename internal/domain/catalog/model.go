package catalog

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrLocationNotFound = errors.New("location not found")
	ErrServiceNotFound  = errors.New("service not found")
)

// Tier is the pricing class of a location: 1 for metro, 2 for secondary
// cities with discounted prices.
type Tier int

const (
	Tier1 Tier = 1
	Tier2 Tier = 2
)

func (t Tier) Valid() bool { return t == Tier1 || t == Tier2 }

func ParseTier(s string) (Tier, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || !Tier(n).Valid() {
		return 0, fmt.Errorf("invalid tier %q: must be 1 or 2", s)
	}
	return Tier(n), nil
}

// Mode is how an appointment is delivered.
type Mode string

const (
	ModeOnline    Mode = "online"
	ModeOffline   Mode = "offline"
	ModeHomeVisit Mode = "home_visit"
)

func (m Mode) Valid() bool {
	switch m {
	case ModeOnline, ModeOffline, ModeHomeVisit:
		return true
	}
	return false
}

type Location struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	City      string    `json:"city"`
	Tier      Tier      `json:"tier"`
	Address   string    `json:"address"`
	Contact   string    `json:"contact"`
	CreatedAt time.Time `json:"createdAt"`
}

type Service struct {
	ID                 uuid.UUID       `json:"id"`
	Name               string          `json:"name" validate:"required"`
	Category           string          `json:"category" validate:"required"`
	Description        string          `json:"description,omitempty"`
	DurationMinutes    int             `json:"durationMinutes" validate:"gt=0"`
	Tier1Price         decimal.Decimal `json:"tier1Price"`
	Tier2Price         decimal.Decimal `json:"tier2Price"`
	OnlineAvailable    bool            `json:"onlineAvailable"`
	OfflineAvailable   bool            `json:"offlineAvailable"`
	HomeVisitAvailable bool            `json:"homeVisitAvailable"`
	Active             bool            `json:"active"`
	CreatedAt          time.Time       `json:"createdAt"`
}

// PriceFor is the price of the service at a location of the given tier.
func (s *Service) PriceFor(tier Tier) decimal.Decimal {
	if tier == Tier1 {
		return s.Tier1Price
	}
	return s.Tier2Price
}

func (s *Service) SupportsMode(m Mode) bool {
	switch m {
	case ModeOnline:
		return s.OnlineAvailable
	case ModeOffline:
		return s.OfflineAvailable
	case ModeHomeVisit:
		return s.HomeVisitAvailable
	}
	return false
}

func (s *Service) validate() error {
	if s.DurationMinutes <= 0 {
		return fmt.Errorf("service %q: duration must be positive", s.Name)
	}
	if s.Tier1Price.IsNegative() || s.Tier2Price.IsNegative() {
		return fmt.Errorf("service %q: prices must not be negative", s.Name)
	}
	return nil
}

type LocationFilter struct {
	City string
	Tier Tier
}

type ServiceFilter struct {
	Category string
	Mode     Mode
}
