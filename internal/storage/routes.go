package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrMarkerOrderTaken maps the unique constraint on (route_id, order_index).
var ErrMarkerOrderTaken = errors.New("marker order index already taken")

const routeColumns = `
	id, user_id, title, description, ST_AsGeoJSON(geometry), distance_km,
	is_public, share_token, created_at, updated_at
`

type CreateRouteParams struct {
	UserID       uuid.UUID
	Title        string
	Description  *string
	GeometryJSON string
	IsPublic     bool
	ShareToken   *string
}

type UpdateRouteParams struct {
	Title        *string
	Description  *string
	GeometryJSON *string
	IsPublic     *bool
	ShareToken   *string
}

type RouteFilter struct {
	ViewerID *uuid.UUID
	Query    string
	Bbox     *[4]float64
	Sort     string
	Order    string
	Page     int
	PageSize int
}

type CreateMarkerParams struct {
	RouteID      uuid.UUID
	GeometryJSON string
	Label        *string
	Description  *string
	IconType     string
	OrderIndex   int
}

type UpdateMarkerParams struct {
	GeometryJSON *string
	Label        *string
	Description  *string
	IconType     *string
	OrderIndex   *int
}

func scanRoute(row interface{ Scan(...any) error }) (*Route, error) {
	var r Route
	if err := row.Scan(&r.ID, &r.UserID, &r.Title, &r.Description, &r.Geometry, &r.DistanceKm,
		&r.IsPublic, &r.ShareToken, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

// CreateRoute persists the route and lets the database compute the
// canonical distance from the geometry in the same statement.
func (s *Store) CreateRoute(ctx context.Context, p CreateRouteParams) (*Route, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO routes (user_id, title, description, geometry, distance_km, is_public, share_token)
		VALUES (
			$1, $2, $3,
			ST_SetSRID(ST_GeomFromGeoJSON($4), 4326),
			ST_Length(ST_SetSRID(ST_GeomFromGeoJSON($4), 4326)::geography) / 1000.0,
			$5, $6
		)
		RETURNING `+routeColumns,
		p.UserID, p.Title, p.Description, p.GeometryJSON, p.IsPublic, p.ShareToken)
	return scanRoute(row)
}

func (s *Store) GetRouteByID(ctx context.Context, id uuid.UUID) (*Route, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+routeColumns+`
		FROM routes
		WHERE id = $1
	`, id)
	return scanRoute(row)
}

func (s *Store) GetRouteByShareToken(ctx context.Context, token string) (*Route, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+routeColumns+`
		FROM routes
		WHERE share_token = $1 AND is_public
	`, token)
	return scanRoute(row)
}

func (s *Store) ListRoutes(ctx context.Context, f RouteFilter) ([]*Route, error) {
	query := `
		SELECT ` + routeColumns + `
		FROM routes
	`
	var args []any
	where := ""

	if f.ViewerID == nil {
		where = " WHERE is_public"
	} else {
		args = append(args, *f.ViewerID)
		where = fmt.Sprintf(" WHERE (is_public OR user_id = $%d)", len(args))
	}

	if f.Query != "" {
		args = append(args, "%"+f.Query+"%")
		where += fmt.Sprintf(" AND title ILIKE $%d", len(args))
	}

	if f.Bbox != nil {
		args = append(args, f.Bbox[0], f.Bbox[1], f.Bbox[2], f.Bbox[3])
		where += fmt.Sprintf(" AND ST_Intersects(geometry, ST_MakeEnvelope($%d, $%d, $%d, $%d, 4326))",
			len(args)-3, len(args)-2, len(args)-1, len(args))
	}

	sort := f.Sort
	switch sort {
	case "created_at", "updated_at", "distance_km":
	default:
		sort = "updated_at"
	}
	order := "DESC"
	if f.Order == "asc" {
		order = "ASC"
	}

	pageSize := f.PageSize
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	page := f.Page
	if page < 1 {
		page = 1
	}

	args = append(args, pageSize, (page-1)*pageSize)
	query += where + fmt.Sprintf(" ORDER BY %s %s, id ASC LIMIT $%d OFFSET $%d", sort, order, len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var routes []*Route
	for rows.Next() {
		r, err := scanRoute(rows)
		if err != nil {
			return nil, err
		}
		routes = append(routes, r)
	}
	return routes, rows.Err()
}

func (s *Store) UpdateRoute(ctx context.Context, id uuid.UUID, p UpdateRouteParams) (*Route, error) {
	sets := []string{"updated_at = now()"}
	var args []any

	add := func(expr string, val any) {
		args = append(args, val)
		sets = append(sets, fmt.Sprintf(expr, len(args)))
	}

	if p.Title != nil {
		add("title = $%d", *p.Title)
	}
	if p.Description != nil {
		add("description = $%d", *p.Description)
	}
	if p.IsPublic != nil {
		add("is_public = $%d", *p.IsPublic)
	}
	if p.ShareToken != nil {
		add("share_token = $%d", *p.ShareToken)
	}
	if p.GeometryJSON != nil {
		args = append(args, *p.GeometryJSON)
		n := len(args)
		sets = append(sets, fmt.Sprintf("geometry = ST_SetSRID(ST_GeomFromGeoJSON($%d), 4326)", n))
		sets = append(sets, fmt.Sprintf("distance_km = ST_Length(ST_SetSRID(ST_GeomFromGeoJSON($%d), 4326)::geography) / 1000.0", n))
	}

	args = append(args, id)
	query := fmt.Sprintf(`
		UPDATE routes
		SET %s
		WHERE id = $%d
		RETURNING `+routeColumns, joinSets(sets), len(args))

	return scanRoute(s.pool.QueryRow(ctx, query, args...))
}

func joinSets(sets []string) string {
	out := sets[0]
	for _, s := range sets[1:] {
		out += ", " + s
	}
	return out
}

func (s *Store) DeleteRoute(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM routes WHERE id = $1`, id)
	return err
}

const markerColumns = `
	id, route_id, ST_AsGeoJSON(geometry), label, description, icon_type, order_index, created_at
`

func scanMarker(row interface{ Scan(...any) error }) (*Marker, error) {
	var m Marker
	if err := row.Scan(&m.ID, &m.RouteID, &m.Geometry, &m.Label, &m.Description,
		&m.IconType, &m.OrderIndex, &m.CreatedAt); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) ListMarkers(ctx context.Context, routeID uuid.UUID) ([]*Marker, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+markerColumns+`
		FROM markers
		WHERE route_id = $1
		ORDER BY order_index ASC, created_at ASC
	`, routeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var markers []*Marker
	for rows.Next() {
		m, err := scanMarker(rows)
		if err != nil {
			return nil, err
		}
		markers = append(markers, m)
	}
	return markers, rows.Err()
}

func (s *Store) GetMarker(ctx context.Context, routeID, markerID uuid.UUID) (*Marker, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+markerColumns+`
		FROM markers
		WHERE id = $1 AND route_id = $2
	`, markerID, routeID)
	return scanMarker(row)
}

func (s *Store) CreateMarker(ctx context.Context, p CreateMarkerParams) (*Marker, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO markers (route_id, geometry, label, description, icon_type, order_index)
		VALUES ($1, ST_SetSRID(ST_GeomFromGeoJSON($2), 4326), $3, $4, $5, $6)
		RETURNING `+markerColumns,
		p.RouteID, p.GeometryJSON, p.Label, p.Description, p.IconType, p.OrderIndex)

	m, err := scanMarker(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrMarkerOrderTaken
		}
		return nil, err
	}
	return m, nil
}

func (s *Store) UpdateMarker(ctx context.Context, routeID, markerID uuid.UUID, p UpdateMarkerParams) (*Marker, error) {
	sets := []string{}
	var args []any

	add := func(expr string, val any) {
		args = append(args, val)
		sets = append(sets, fmt.Sprintf(expr, len(args)))
	}

	if p.GeometryJSON != nil {
		add("geometry = ST_SetSRID(ST_GeomFromGeoJSON($%d), 4326)", *p.GeometryJSON)
	}
	if p.Label != nil {
		add("label = $%d", *p.Label)
	}
	if p.Description != nil {
		add("description = $%d", *p.Description)
	}
	if p.IconType != nil {
		add("icon_type = $%d", *p.IconType)
	}
	if p.OrderIndex != nil {
		add("order_index = $%d", *p.OrderIndex)
	}

	if len(sets) == 0 {
		return s.GetMarker(ctx, routeID, markerID)
	}

	args = append(args, markerID, routeID)
	query := fmt.Sprintf(`
		UPDATE markers
		SET %s
		WHERE id = $%d AND route_id = $%d
		RETURNING `+markerColumns, joinSets(sets), len(args)-1, len(args))

	m, err := scanMarker(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrMarkerOrderTaken
		}
		return nil, err
	}
	return m, nil
}

func (s *Store) DeleteMarker(ctx context.Context, routeID, markerID uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM markers WHERE id = $1 AND route_id = $2`, markerID, routeID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
