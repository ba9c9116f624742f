// Package geo validates GeoJSON geometries at the request boundary. All
// real geometry work (distance, bbox intersection) is done by PostGIS;
// this package only rejects malformed shapes before they reach the store.
package geo

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrNotPoint      = errors.New("expected GeoJSON Point geometry")
	ErrNotLineString = errors.New("expected GeoJSON LineString geometry")
)

type Geometry struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

type position [2]float64

// UnmarshalJSON requires exactly [lng, lat]. Decoding straight into the
// array would zero-fill a short position and drop elements past the
// second, letting corrupt coordinates through.
func (p *position) UnmarshalJSON(data []byte) error {
	var raw []float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 2 {
		return fmt.Errorf("position must have exactly 2 elements, got %d", len(raw))
	}
	p[0], p[1] = raw[0], raw[1]
	return nil
}

func (p position) validate() error {
	lng, lat := p[0], p[1]
	if lng < -180 || lng > 180 {
		return fmt.Errorf("longitude %v out of range", lng)
	}
	if lat < -90 || lat > 90 {
		return fmt.Errorf("latitude %v out of range", lat)
	}
	return nil
}

// ValidatePoint checks the geometry is a well-formed Point and returns its
// canonical JSON encoding for ST_GeomFromGeoJSON.
func ValidatePoint(g Geometry) (string, error) {
	if g.Type != "Point" {
		return "", ErrNotPoint
	}
	var pos position
	if err := json.Unmarshal(g.Coordinates, &pos); err != nil {
		return "", fmt.Errorf("invalid Point coordinates: %w", err)
	}
	if err := pos.validate(); err != nil {
		return "", err
	}
	return encode("Point", pos)
}

// ValidateLineString checks the geometry is a well-formed LineString with
// at least two positions and returns its canonical JSON encoding.
func ValidateLineString(g Geometry) (string, error) {
	if g.Type != "LineString" {
		return "", ErrNotLineString
	}
	var coords []position
	if err := json.Unmarshal(g.Coordinates, &coords); err != nil {
		return "", fmt.Errorf("invalid LineString coordinates: %w", err)
	}
	if len(coords) < 2 {
		return "", errors.New("LineString requires at least two positions")
	}
	for _, pos := range coords {
		if err := pos.validate(); err != nil {
			return "", err
		}
	}
	return encode("LineString", coords)
}

func encode(geomType string, coordinates any) (string, error) {
	out, err := json.Marshal(map[string]any{
		"type":        geomType,
		"coordinates": coordinates,
	})
	if err != nil {
		return "", err
	}
	return string(out), nil
}
