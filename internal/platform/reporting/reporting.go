package reporting

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medibook/medibook/internal/platform/auth"
)

// MeasureDefinition is a canned report. Every SQL statement takes the same
// three parameters: $1 location id (NULL for all), $2 and $3 the inclusive
// appointment date range (NULL for open ends).
type MeasureDefinition struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	SQL         string `json:"-"`
}

// MeasureReport holds the results of evaluating a measure.
type MeasureReport struct {
	MeasureID   string                   `json:"measureId"`
	MeasureName string                   `json:"measureName"`
	GeneratedAt time.Time                `json:"generatedAt"`
	Results     []map[string]interface{} `json:"results"`
	Parameters  map[string]string        `json:"parameters,omitempty"`
}

const rangeFilter = `($1::uuid IS NULL OR a.location_id = $1::uuid)
	AND ($2::date IS NULL OR a.appointment_date >= $2::date)
	AND ($3::date IS NULL OR a.appointment_date <= $3::date)`

// PredefinedMeasures is the list of available reporting measures.
var PredefinedMeasures = []MeasureDefinition{
	{
		ID:          "appointments-by-status",
		Name:        "Appointments by Status",
		Description: "Number of appointments in each lifecycle status",
		SQL: `SELECT a.status, COUNT(*) AS total FROM appointments a
			WHERE ` + rangeFilter + ` GROUP BY a.status ORDER BY total DESC, a.status`,
	},
	{
		ID:          "revenue-by-location",
		Name:        "Revenue by Location",
		Description: "Paid appointment revenue per location",
		SQL: `SELECT a.location_id::text AS location_id, l.name AS location_name, l.tier,
				COUNT(*) AS paid_appointments, COALESCE(SUM(a.amount), 0)::text AS revenue
			FROM appointments a JOIN locations l ON l.id = a.location_id
			WHERE a.payment_status = 'paid' AND ` + rangeFilter + `
			GROUP BY a.location_id, l.name, l.tier ORDER BY l.name`,
	},
	{
		ID:          "bookings-by-service",
		Name:        "Bookings by Service",
		Description: "Live bookings per service and mode",
		SQL: `SELECT s.name AS service_name, a.mode, COUNT(*) AS total
			FROM appointments a JOIN services s ON s.id = a.service_id
			WHERE a.status <> 'cancelled' AND ` + rangeFilter + `
			GROUP BY s.name, a.mode ORDER BY total DESC, s.name`,
	},
	{
		ID:          "doctor-workload",
		Name:        "Doctor Workload",
		Description: "Completed, upcoming and no-show appointments per doctor",
		SQL: `SELECT a.doctor_id::text AS doctor_id, u.full_name AS doctor_name,
				COUNT(*) FILTER (WHERE a.status = 'completed') AS completed,
				COUNT(*) FILTER (WHERE a.status IN ('pending', 'confirmed')) AS upcoming,
				COUNT(*) FILTER (WHERE a.status = 'no_show') AS no_show
			FROM appointments a
			JOIN doctors d ON d.id = a.doctor_id
			JOIN users u ON u.id = d.user_id
			WHERE ` + rangeFilter + `
			GROUP BY a.doctor_id, u.full_name ORDER BY u.full_name`,
	},
}

// Runner executes a measure query and returns one map per row.
type Runner interface {
	Run(ctx context.Context, sql string, args ...interface{}) ([]map[string]interface{}, error)
}

// Handler provides HTTP handlers for the reporting API.
type Handler struct {
	runner Runner
	logger zerolog.Logger
}

// NewHandler creates a new reporting handler.
func NewHandler(runner Runner, logger zerolog.Logger) *Handler {
	return &Handler{runner: runner, logger: logger}
}

// RegisterRoutes registers the reporting API routes.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	reportGroup := api.Group("/reports", auth.RequireRole(auth.LocationAdmin, auth.SuperAdmin))
	reportGroup.GET("/measures", h.ListMeasures)
	reportGroup.GET("/measures/:id/evaluate", h.EvaluateMeasure)
}

// ListMeasures returns all available measure definitions.
func (h *Handler) ListMeasures(c echo.Context) error {
	return c.JSON(http.StatusOK, PredefinedMeasures)
}

// EvaluateMeasure runs a measure. Location admins always see their own
// location; super admins may pass ?locationId.
func (h *Handler) EvaluateMeasure(c echo.Context) error {
	measure := FindMeasure(c.Param("id"))
	if measure == nil {
		return echo.NewHTTPError(http.StatusNotFound, "measure not found")
	}
	caller, _ := auth.CallerFromContext(c.Request().Context())

	params := map[string]string{}
	var locationID *uuid.UUID
	if caller.Role == auth.LocationAdmin {
		if caller.LocationID == nil {
			return echo.NewHTTPError(http.StatusForbidden, "no location assigned")
		}
		locationID = caller.LocationID
	} else if v := c.QueryParam("locationId"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid locationId")
		}
		locationID = &id
	}
	if locationID != nil {
		params["locationId"] = locationID.String()
	}

	dateFrom, err := dateParam(c, "dateFrom", params)
	if err != nil {
		return err
	}
	dateTo, err := dateParam(c, "dateTo", params)
	if err != nil {
		return err
	}

	results, err := h.runner.Run(c.Request().Context(), measure.SQL, locationID, dateFrom, dateTo)
	if err != nil {
		h.logger.Error().Err(err).Str("measure", measure.ID).Msg("report query failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "report query failed")
	}

	return c.JSON(http.StatusOK, MeasureReport{
		MeasureID:   measure.ID,
		MeasureName: measure.Name,
		GeneratedAt: time.Now().UTC(),
		Results:     results,
		Parameters:  params,
	})
}

func dateParam(c echo.Context, name string, params map[string]string) (*string, error) {
	v := c.QueryParam(name)
	if v == "" {
		return nil, nil
	}
	if _, err := time.Parse("2006-01-02", v); err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, name+" must be YYYY-MM-DD")
	}
	params[name] = v
	return &v, nil
}

// FindMeasure looks up a measure by ID.
func FindMeasure(id string) *MeasureDefinition {
	for i := range PredefinedMeasures {
		if PredefinedMeasures[i].ID == id {
			return &PredefinedMeasures[i]
		}
	}
	return nil
}

// PoolRunner runs measures against Postgres.
type PoolRunner struct {
	pool *pgxpool.Pool
}

func NewPoolRunner(pool *pgxpool.Pool) *PoolRunner {
	return &PoolRunner{pool: pool}
}

func (r *PoolRunner) Run(ctx context.Context, sql string, args ...interface{}) ([]map[string]interface{}, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	results := []map[string]interface{}{}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(map[string]interface{}, len(fieldDescs))
		for i, fd := range fieldDescs {
			row[fd.Name] = values[i]
		}
		results = append(results, row)
	}
	return results, rows.Err()
}
