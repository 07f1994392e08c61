package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medibook/medibook/internal/platform/db"
)

type locationRepoPG struct{ pool *pgxpool.Pool }

func NewLocationRepoPG(pool *pgxpool.Pool) LocationRepository { return &locationRepoPG{pool: pool} }

func (r *locationRepoPG) ListLocations(ctx context.Context) ([]*Location, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, city, tier, address, contact, created_at
		FROM locations ORDER BY city, name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Location
	for rows.Next() {
		var l Location
		var tier int
		if err := rows.Scan(&l.ID, &l.Name, &l.City, &tier, &l.Address, &l.Contact, &l.CreatedAt); err != nil {
			return nil, err
		}
		l.Tier = Tier(tier)
		out = append(out, &l)
	}
	return out, rows.Err()
}

type serviceRepoPG struct{ pool *pgxpool.Pool }

func NewServiceRepoPG(pool *pgxpool.Pool) ServiceRepository { return &serviceRepoPG{pool: pool} }

func (r *serviceRepoPG) conn(ctx context.Context) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const serviceCols = `id, name, category, description, duration_minutes, tier1_price, tier2_price,
	online_available, offline_available, home_visit_available, active, created_at`

func scanService(row pgx.Row) (*Service, error) {
	var s Service
	err := row.Scan(&s.ID, &s.Name, &s.Category, &s.Description, &s.DurationMinutes,
		&s.Tier1Price, &s.Tier2Price, &s.OnlineAvailable, &s.OfflineAvailable,
		&s.HomeVisitAvailable, &s.Active, &s.CreatedAt)
	return &s, err
}

func (r *serviceRepoPG) Create(ctx context.Context, s *Service) error {
	s.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO services (id, name, category, description, duration_minutes, tier1_price, tier2_price,
			online_available, offline_available, home_visit_available, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING created_at`,
		s.ID, s.Name, s.Category, s.Description, s.DurationMinutes, s.Tier1Price, s.Tier2Price,
		s.OnlineAvailable, s.OfflineAvailable, s.HomeVisitAvailable, s.Active,
	).Scan(&s.CreatedAt)
}

func (r *serviceRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Service, error) {
	s, err := scanService(r.conn(ctx).QueryRow(ctx, `SELECT `+serviceCols+` FROM services WHERE id = $1`, id))
	if db.NoRows(err) {
		return nil, ErrServiceNotFound
	}
	return s, err
}

var modeColumn = map[Mode]string{
	ModeOnline:    "online_available",
	ModeOffline:   "offline_available",
	ModeHomeVisit: "home_visit_available",
}

func (r *serviceRepoPG) List(ctx context.Context, f ServiceFilter) ([]*Service, error) {
	where := []string{"active"}
	var args []interface{}
	if f.Category != "" {
		args = append(args, f.Category)
		where = append(where, fmt.Sprintf("category = $%d", len(args)))
	}
	if col, ok := modeColumn[f.Mode]; ok {
		where = append(where, col)
	}

	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+serviceCols+` FROM services WHERE `+strings.Join(where, " AND ")+` ORDER BY category, name, id`,
		args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Service
	for rows.Next() {
		s, err := scanService(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
