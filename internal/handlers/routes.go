package handlers

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/GadCoder/BikeRoutes/internal/geo"
	"github.com/GadCoder/BikeRoutes/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"log/slog"
)

type RouteStore interface {
	CreateRoute(ctx context.Context, p storage.CreateRouteParams) (*storage.Route, error)
	GetRouteByID(ctx context.Context, id uuid.UUID) (*storage.Route, error)
	GetRouteByShareToken(ctx context.Context, token string) (*storage.Route, error)
	ListRoutes(ctx context.Context, f storage.RouteFilter) ([]*storage.Route, error)
	UpdateRoute(ctx context.Context, id uuid.UUID, p storage.UpdateRouteParams) (*storage.Route, error)
	DeleteRoute(ctx context.Context, id uuid.UUID) error
	ListMarkers(ctx context.Context, routeID uuid.UUID) ([]*storage.Marker, error)
	GetMarker(ctx context.Context, routeID, markerID uuid.UUID) (*storage.Marker, error)
	CreateMarker(ctx context.Context, p storage.CreateMarkerParams) (*storage.Marker, error)
	UpdateMarker(ctx context.Context, routeID, markerID uuid.UUID, p storage.UpdateMarkerParams) (*storage.Marker, error)
	DeleteMarker(ctx context.Context, routeID, markerID uuid.UUID) (bool, error)
}

type RouteHandler struct {
	Store  RouteStore
	Logger *slog.Logger
}

func NewRouteHandler(store RouteStore, logger *slog.Logger) *RouteHandler {
	return &RouteHandler{Store: store, Logger: logger}
}

func (h *RouteHandler) RegisterRoutes(r *gin.Engine, gw *Gateway) {
	r.GET("/routes", gw.Optional(), h.List)
	r.POST("/routes", gw.Require(), h.Create)
	r.GET("/routes/share/:token", h.GetShared)
	r.GET("/routes/:id", gw.Optional(), h.Get)
	r.PUT("/routes/:id", gw.Require(), h.Update)
	r.DELETE("/routes/:id", gw.Require(), h.Delete)

	r.GET("/routes/:id/markers", gw.Optional(), h.ListMarkers)
	r.POST("/routes/:id/markers", gw.Require(), h.CreateMarker)
	r.PUT("/routes/:id/markers/:marker_id", gw.Require(), h.UpdateMarker)
	r.DELETE("/routes/:id/markers/:marker_id", gw.Require(), h.DeleteMarker)
}

type routeCreateRequest struct {
	Title       string       `json:"title"`
	Description *string      `json:"description"`
	Geometry    geo.Geometry `json:"geometry"`
	IsPublic    bool         `json:"is_public"`
	// Accepted for client convenience, always ignored: the server value
	// is computed from the geometry.
	DistanceKm *float64 `json:"distance_km"`
}

type routeUpdateRequest struct {
	Title       *string       `json:"title"`
	Description *string       `json:"description"`
	Geometry    *geo.Geometry `json:"geometry"`
	IsPublic    *bool         `json:"is_public"`
	DistanceKm  *float64      `json:"distance_km"`
}

type markerCreateRequest struct {
	Geometry    geo.Geometry `json:"geometry"`
	Label       *string      `json:"label"`
	Description *string      `json:"description"`
	IconType    string       `json:"icon_type"`
	OrderIndex  int          `json:"order_index"`
}

type markerUpdateRequest struct {
	Geometry    *geo.Geometry `json:"geometry"`
	Label       *string       `json:"label"`
	Description *string       `json:"description"`
	IconType    *string       `json:"icon_type"`
	OrderIndex  *int          `json:"order_index"`
}

type featureResponse struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Geometry   json.RawMessage `json:"geometry"`
	Properties gin.H           `json:"properties"`
}

func markerFeature(m *storage.Marker) featureResponse {
	return featureResponse{
		ID:       m.ID.String(),
		Type:     "Feature",
		Geometry: m.Geometry,
		Properties: gin.H{
			"label":       m.Label,
			"description": m.Description,
			"icon_type":   m.IconType,
			"order_index": m.OrderIndex,
		},
	}
}

func routeFeature(r *storage.Route, markers []*storage.Marker, includeShareToken bool) featureResponse {
	markerFeatures := make([]featureResponse, 0, len(markers))
	for _, m := range markers {
		markerFeatures = append(markerFeatures, markerFeature(m))
	}

	props := gin.H{
		"title":       r.Title,
		"description": r.Description,
		"distance_km": r.DistanceKm,
		"is_public":   r.IsPublic,
		"markers":     markerFeatures,
	}
	if includeShareToken {
		props["share_token"] = r.ShareToken
	}

	return featureResponse{
		ID:         r.ID.String(),
		Type:       "Feature",
		Geometry:   r.Geometry,
		Properties: props,
	}
}

func generateShareToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate share token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func parseBbox(bbox string) (*[4]float64, error) {
	parts := strings.Split(bbox, ",")
	if len(parts) != 4 {
		return nil, errors.New("bbox must be minLng,minLat,maxLng,maxLat")
	}
	var out [4]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, errors.New("bbox must be minLng,minLat,maxLng,maxLat")
		}
		out[i] = v
	}
	if out[0] >= out[2] || out[1] >= out[3] {
		return nil, errors.New("bbox min must be < max")
	}
	return &out, nil
}

func canViewRoute(r *storage.Route, user *storage.User) bool {
	return r.IsPublic || (user != nil && r.UserID == user.ID)
}

func isOwner(r *storage.Route, user *storage.User) bool {
	return user != nil && r.UserID == user.ID
}

// loadRoute fetches the route from the path id, answering 400/404 itself.
func (h *RouteHandler) loadRoute(c *gin.Context) *storage.Route {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "invalid_request", Message: "invalid route id"})
		return nil
	}

	route, err := h.Store.GetRouteByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			c.JSON(http.StatusNotFound, errorResponse{Code: "not_found", Message: "route not found"})
			return nil
		}
		h.Logger.Error("route lookup failed", "error", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Code: "internal_error", Message: "internal error"})
		return nil
	}
	return route
}

func (h *RouteHandler) List(c *gin.Context) {
	user, _ := PrincipalFrom(c)

	filter := storage.RouteFilter{
		Query:    c.Query("q"),
		Sort:     c.DefaultQuery("sort", "updated_at"),
		Order:    c.DefaultQuery("order", "desc"),
		Page:     1,
		PageSize: 20,
	}
	if user != nil {
		filter.ViewerID = &user.ID
	}

	if v := c.Query("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, errorResponse{Code: "invalid_request", Message: "invalid page"})
			return
		}
		filter.Page = n
	}
	if v := c.Query("page_size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			c.JSON(http.StatusBadRequest, errorResponse{Code: "invalid_request", Message: "invalid page_size"})
			return
		}
		filter.PageSize = n
	}
	switch filter.Sort {
	case "created_at", "updated_at", "distance_km":
	default:
		c.JSON(http.StatusBadRequest, errorResponse{Code: "invalid_request", Message: "invalid sort"})
		return
	}
	if filter.Order != "asc" && filter.Order != "desc" {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "invalid_request", Message: "invalid order"})
		return
	}
	if bbox := c.Query("bbox"); bbox != "" {
		parsed, err := parseBbox(bbox)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResponse{Code: "invalid_request", Message: err.Error()})
			return
		}
		filter.Bbox = parsed
	}

	routes, err := h.Store.ListRoutes(c.Request.Context(), filter)
	if err != nil {
		h.Logger.Error("route list failed", "error", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Code: "internal_error", Message: "internal error"})
		return
	}

	features := make([]featureResponse, 0, len(routes))
	for _, r := range routes {
		markers, err := h.Store.ListMarkers(c.Request.Context(), r.ID)
		if err != nil {
			h.Logger.Error("marker list failed", "error", err)
			c.JSON(http.StatusInternalServerError, errorResponse{Code: "internal_error", Message: "internal error"})
			return
		}
		features = append(features, routeFeature(r, markers, isOwner(r, user)))
	}
	c.JSON(http.StatusOK, features)
}

func (h *RouteHandler) Create(c *gin.Context) {
	user, ok := PrincipalFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse{Code: "not_authenticated", Message: "not authenticated"})
		return
	}

	var req routeCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "invalid_request", Message: "invalid payload"})
		return
	}
	if req.Title == "" || len(req.Title) > 255 {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "invalid_request", Message: "title must be 1-255 characters"})
		return
	}

	geomJSON, err := geo.ValidateLineString(req.Geometry)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "invalid_request", Message: err.Error()})
		return
	}

	params := storage.CreateRouteParams{
		UserID:       user.ID,
		Title:        req.Title,
		Description:  req.Description,
		GeometryJSON: geomJSON,
		IsPublic:     req.IsPublic,
	}
	if req.IsPublic {
		token, err := generateShareToken()
		if err != nil {
			h.Logger.Error("share token generation failed", "error", err)
			c.JSON(http.StatusInternalServerError, errorResponse{Code: "internal_error", Message: "internal error"})
			return
		}
		params.ShareToken = &token
	}

	route, err := h.Store.CreateRoute(c.Request.Context(), params)
	if err != nil {
		h.Logger.Error("route insert failed", "error", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Code: "internal_error", Message: "internal error"})
		return
	}

	c.JSON(http.StatusCreated, routeFeature(route, nil, true))
}

func (h *RouteHandler) Get(c *gin.Context) {
	route := h.loadRoute(c)
	if route == nil {
		return
	}

	user, _ := PrincipalFrom(c)
	if !canViewRoute(route, user) {
		c.JSON(http.StatusForbidden, errorResponse{Code: "forbidden", Message: "forbidden"})
		return
	}

	markers, err := h.Store.ListMarkers(c.Request.Context(), route.ID)
	if err != nil {
		h.Logger.Error("marker list failed", "error", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Code: "internal_error", Message: "internal error"})
		return
	}
	c.JSON(http.StatusOK, routeFeature(route, markers, isOwner(route, user)))
}

func (h *RouteHandler) GetShared(c *gin.Context) {
	route, err := h.Store.GetRouteByShareToken(c.Request.Context(), c.Param("token"))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			c.JSON(http.StatusNotFound, errorResponse{Code: "not_found", Message: "route not found"})
			return
		}
		h.Logger.Error("shared route lookup failed", "error", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Code: "internal_error", Message: "internal error"})
		return
	}

	markers, err := h.Store.ListMarkers(c.Request.Context(), route.ID)
	if err != nil {
		h.Logger.Error("marker list failed", "error", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Code: "internal_error", Message: "internal error"})
		return
	}
	// The share token itself is never echoed on the public view.
	c.JSON(http.StatusOK, routeFeature(route, markers, false))
}

func (h *RouteHandler) Update(c *gin.Context) {
	route := h.loadRoute(c)
	if route == nil {
		return
	}

	user, _ := PrincipalFrom(c)
	if !isOwner(route, user) {
		c.JSON(http.StatusForbidden, errorResponse{Code: "forbidden", Message: "forbidden"})
		return
	}

	var req routeUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "invalid_request", Message: "invalid payload"})
		return
	}
	if req.Title != nil && (*req.Title == "" || len(*req.Title) > 255) {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "invalid_request", Message: "title must be 1-255 characters"})
		return
	}

	params := storage.UpdateRouteParams{
		Title:       req.Title,
		Description: req.Description,
		IsPublic:    req.IsPublic,
	}
	if req.Geometry != nil {
		geomJSON, err := geo.ValidateLineString(*req.Geometry)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResponse{Code: "invalid_request", Message: err.Error()})
			return
		}
		params.GeometryJSON = &geomJSON
	}
	// Flipping a route public mints its share token exactly once.
	if req.IsPublic != nil && *req.IsPublic && route.ShareToken == nil {
		token, err := generateShareToken()
		if err != nil {
			h.Logger.Error("share token generation failed", "error", err)
			c.JSON(http.StatusInternalServerError, errorResponse{Code: "internal_error", Message: "internal error"})
			return
		}
		params.ShareToken = &token
	}

	updated, err := h.Store.UpdateRoute(c.Request.Context(), route.ID, params)
	if err != nil {
		h.Logger.Error("route update failed", "error", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Code: "internal_error", Message: "internal error"})
		return
	}

	markers, err := h.Store.ListMarkers(c.Request.Context(), updated.ID)
	if err != nil {
		h.Logger.Error("marker list failed", "error", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Code: "internal_error", Message: "internal error"})
		return
	}
	c.JSON(http.StatusOK, routeFeature(updated, markers, true))
}

func (h *RouteHandler) Delete(c *gin.Context) {
	route := h.loadRoute(c)
	if route == nil {
		return
	}

	user, _ := PrincipalFrom(c)
	if !isOwner(route, user) {
		c.JSON(http.StatusForbidden, errorResponse{Code: "forbidden", Message: "forbidden"})
		return
	}

	if err := h.Store.DeleteRoute(c.Request.Context(), route.ID); err != nil {
		h.Logger.Error("route delete failed", "error", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Code: "internal_error", Message: "internal error"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *RouteHandler) ListMarkers(c *gin.Context) {
	route := h.loadRoute(c)
	if route == nil {
		return
	}

	user, _ := PrincipalFrom(c)
	if !canViewRoute(route, user) {
		c.JSON(http.StatusForbidden, errorResponse{Code: "forbidden", Message: "forbidden"})
		return
	}

	markers, err := h.Store.ListMarkers(c.Request.Context(), route.ID)
	if err != nil {
		h.Logger.Error("marker list failed", "error", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Code: "internal_error", Message: "internal error"})
		return
	}

	features := make([]featureResponse, 0, len(markers))
	for _, m := range markers {
		features = append(features, markerFeature(m))
	}
	c.JSON(http.StatusOK, features)
}

func (h *RouteHandler) CreateMarker(c *gin.Context) {
	route := h.loadRoute(c)
	if route == nil {
		return
	}

	user, _ := PrincipalFrom(c)
	if !isOwner(route, user) {
		c.JSON(http.StatusForbidden, errorResponse{Code: "forbidden", Message: "forbidden"})
		return
	}

	var req markerCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "invalid_request", Message: "invalid payload"})
		return
	}

	geomJSON, err := geo.ValidatePoint(req.Geometry)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "invalid_request", Message: err.Error()})
		return
	}

	iconType := req.IconType
	if iconType == "" {
		iconType = "default"
	}

	marker, err := h.Store.CreateMarker(c.Request.Context(), storage.CreateMarkerParams{
		RouteID:      route.ID,
		GeometryJSON: geomJSON,
		Label:        req.Label,
		Description:  req.Description,
		IconType:     iconType,
		OrderIndex:   req.OrderIndex,
	})
	if err != nil {
		if errors.Is(err, storage.ErrMarkerOrderTaken) {
			c.JSON(http.StatusConflict, errorResponse{Code: "conflict", Message: "marker order_index conflict"})
			return
		}
		h.Logger.Error("marker insert failed", "error", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Code: "internal_error", Message: "internal error"})
		return
	}
	c.JSON(http.StatusCreated, markerFeature(marker))
}

func (h *RouteHandler) UpdateMarker(c *gin.Context) {
	route := h.loadRoute(c)
	if route == nil {
		return
	}

	user, _ := PrincipalFrom(c)
	if !isOwner(route, user) {
		c.JSON(http.StatusForbidden, errorResponse{Code: "forbidden", Message: "forbidden"})
		return
	}

	markerID, err := uuid.Parse(c.Param("marker_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "invalid_request", Message: "invalid marker id"})
		return
	}

	var req markerUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "invalid_request", Message: "invalid payload"})
		return
	}

	params := storage.UpdateMarkerParams{
		Label:       req.Label,
		Description: req.Description,
		IconType:    req.IconType,
		OrderIndex:  req.OrderIndex,
	}
	if req.Geometry != nil {
		geomJSON, err := geo.ValidatePoint(*req.Geometry)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResponse{Code: "invalid_request", Message: err.Error()})
			return
		}
		params.GeometryJSON = &geomJSON
	}

	marker, err := h.Store.UpdateMarker(c.Request.Context(), route.ID, markerID, params)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			c.JSON(http.StatusNotFound, errorResponse{Code: "not_found", Message: "marker not found"})
			return
		}
		if errors.Is(err, storage.ErrMarkerOrderTaken) {
			c.JSON(http.StatusConflict, errorResponse{Code: "conflict", Message: "marker order_index conflict"})
			return
		}
		h.Logger.Error("marker update failed", "error", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Code: "internal_error", Message: "internal error"})
		return
	}
	c.JSON(http.StatusOK, markerFeature(marker))
}

func (h *RouteHandler) DeleteMarker(c *gin.Context) {
	route := h.loadRoute(c)
	if route == nil {
		return
	}

	user, _ := PrincipalFrom(c)
	if !isOwner(route, user) {
		c.JSON(http.StatusForbidden, errorResponse{Code: "forbidden", Message: "forbidden"})
		return
	}

	markerID, err := uuid.Parse(c.Param("marker_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "invalid_request", Message: "invalid marker id"})
		return
	}

	deleted, err := h.Store.DeleteMarker(c.Request.Context(), route.ID, markerID)
	if err != nil {
		h.Logger.Error("marker delete failed", "error", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Code: "internal_error", Message: "internal error"})
		return
	}
	if !deleted {
		c.JSON(http.StatusNotFound, errorResponse{Code: "not_found", Message: "marker not found"})
		return
	}
	c.Status(http.StatusNoContent)
}
