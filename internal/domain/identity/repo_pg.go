package identity

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medibook/medibook/internal/platform/auth"
	"github.com/medibook/medibook/internal/platform/db"
)

// =========== User Repository ===========

type userRepoPG struct{ pool *pgxpool.Pool }

func NewUserRepoPG(pool *pgxpool.Pool) UserRepository { return &userRepoPG{pool: pool} }

func (r *userRepoPG) conn(ctx context.Context) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const userCols = `id, email, full_name, COALESCE(phone, ''), role, location_id, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	var role *string
	err := row.Scan(&u.ID, &u.Email, &u.FullName, &u.Phone, &role, &u.LocationID, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	// A NULL role means the user never finished onboarding.
	if role != nil {
		u.Role = auth.ParseRole(*role)
	}
	return &u, nil
}

func (r *userRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	u, err := scanUser(r.conn(ctx).QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, id))
	if db.NoRows(err) {
		return nil, ErrUserNotFound
	}
	return u, err
}

func (r *userRepoPG) UpdateProfile(ctx context.Context, id uuid.UUID, upd ProfileUpdate) (*User, error) {
	u, err := scanUser(r.conn(ctx).QueryRow(ctx, `
		UPDATE users SET full_name = $2, phone = NULLIF($3, ''), updated_at = NOW()
		WHERE id = $1
		RETURNING `+userCols,
		id, upd.FullName, upd.Phone))
	if db.NoRows(err) {
		return nil, ErrUserNotFound
	}
	return u, err
}

// =========== Doctor Repository ===========

type doctorRepoPG struct{ pool *pgxpool.Pool }

func NewDoctorRepoPG(pool *pgxpool.Pool) DoctorRepository { return &doctorRepoPG{pool: pool} }

func (r *doctorRepoPG) conn(ctx context.Context) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const doctorCols = `d.id, d.user_id, d.location_id, u.full_name, d.specializations,
	d.qualification, d.experience_years, d.bio, d.active, d.created_at`

const doctorFrom = ` FROM doctors d JOIN users u ON u.id = d.user_id`

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	err := row.Scan(&d.ID, &d.UserID, &d.LocationID, &d.Name, &d.Specializations,
		&d.Qualification, &d.ExperienceYears, &d.Bio, &d.Active, &d.CreatedAt)
	if d.Specializations == nil {
		d.Specializations = []string{}
	}
	return &d, err
}

func (r *doctorRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	d, err := scanDoctor(r.conn(ctx).QueryRow(ctx, `SELECT `+doctorCols+doctorFrom+` WHERE d.id = $1`, id))
	if db.NoRows(err) {
		return nil, ErrDoctorNotFound
	}
	return d, err
}

func (r *doctorRepoPG) GetByUserID(ctx context.Context, userID uuid.UUID) (*Doctor, error) {
	d, err := scanDoctor(r.conn(ctx).QueryRow(ctx, `SELECT `+doctorCols+doctorFrom+` WHERE d.user_id = $1`, userID))
	if db.NoRows(err) {
		return nil, ErrDoctorNotFound
	}
	return d, err
}

func (r *doctorRepoPG) List(ctx context.Context, f DoctorFilter, limit, offset int) ([]*Doctor, int, error) {
	where := []string{"d.active"}
	var args []interface{}
	if f.LocationID != nil {
		args = append(args, *f.LocationID)
		where = append(where, fmt.Sprintf("d.location_id = $%d", len(args)))
	}
	if f.Specialization != "" {
		args = append(args, f.Specialization)
		where = append(where, fmt.Sprintf("$%d = ANY(d.specializations)", len(args)))
	}
	cond := ` WHERE ` + strings.Join(where, " AND ")

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*)`+doctorFrom+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+doctorCols+doctorFrom+cond+fmt.Sprintf(` ORDER BY u.full_name, d.id LIMIT $%d OFFSET $%d`, len(args)-1, len(args)),
		args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Doctor
	for rows.Next() {
		d, err := scanDoctor(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, d)
	}
	return out, total, rows.Err()
}
