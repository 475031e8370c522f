package models

import (
	"fmt"
	"strconv"
	"strings"
)

// PageBreakMarker separates per-page content in an analysis result body.
const PageBreakMarker = "<!-- PageBreak -->"

// AnalyzeResult is the persisted payload of one completed analysis job for a
// split unit. The schema is explicit JSON so any consumer can deserialize it
// without a language-specific object serializer.
type AnalyzeResult struct {
	// Content is page-broken markdown; embedded tables appear as HTML
	// <table> elements inside their page's segment.
	Content string           `json:"content"`
	Tables  []AnalyzedTable  `json:"tables"`
	Figures []AnalyzedFigure `json:"figures"`
}

// AnalyzedTable marks the presence of a detected table on a page of the unit.
type AnalyzedTable struct {
	PageNumber int `json:"pageNumber"` // 1-based within the unit
}

// AnalyzedFigure is a figure reported by the analysis service. ID is a
// composite "<pageInUnit>.<figureInPage>" identifier, both parts 1-based.
type AnalyzedFigure struct {
	ID              string           `json:"id"`
	BoundingRegions []BoundingRegion `json:"boundingRegions"`
}

// BoundingRegion anchors a figure to a page with a polygon of interleaved
// x/y coordinates in inches.
type BoundingRegion struct {
	PageNumber int       `json:"pageNumber"`
	Polygon    []float64 `json:"polygon"`
}

// PageContents splits the result body on the page-break marker. The segment
// count must be validated against the unit's page count by the caller.
func (r *AnalyzeResult) PageContents() []string {
	return strings.Split(r.Content, PageBreakMarker)
}

// ParseFigureID decodes a composite figure identifier into its page position
// within the unit and its figure index within the page.
func ParseFigureID(id string) (pageInUnit, figureInPage int, err error) {
	parts := strings.Split(id, ".")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("malformed figure id %q", id)
	}
	pageInUnit, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("malformed figure id %q: %w", id, err)
	}
	figureInPage, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("malformed figure id %q: %w", id, err)
	}
	if pageInUnit < 1 || figureInPage < 1 {
		return 0, 0, fmt.Errorf("figure id %q: indices must be 1-based", id)
	}
	return pageInUnit, figureInPage, nil
}

// Rect is an axis-aligned bounding box, coordinates in inches.
type Rect struct {
	X0, Y0, X1, Y1 float64
}

// BoundingBox computes the axis-aligned box of a polygon as the min/max of
// its interleaved x/y coordinates.
func BoundingBox(polygon []float64) (Rect, error) {
	if len(polygon) < 4 || len(polygon)%2 != 0 {
		return Rect{}, fmt.Errorf("polygon needs an even number of coordinates, got %d", len(polygon))
	}
	r := Rect{X0: polygon[0], Y0: polygon[1], X1: polygon[0], Y1: polygon[1]}
	for i := 2; i < len(polygon); i += 2 {
		x, y := polygon[i], polygon[i+1]
		if x < r.X0 {
			r.X0 = x
		}
		if x > r.X1 {
			r.X1 = x
		}
		if y < r.Y0 {
			r.Y0 = y
		}
		if y > r.Y1 {
			r.Y1 = y
		}
	}
	return r, nil
}
