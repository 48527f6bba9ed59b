package fit

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math"
)

const (
	minShapeID   = 20
	folderID     = "8"
	authorID     = "2"
	instructionsID = "4"
	githubID     = "6"
	folderTitle  = "Image"

	authorText       = "Made by Bennett Lang (Bennebotix)"
	instructionsText = "Unhide the folder to see the image (may be laggy)"
	githubText       = "This was made using EIDOS, a simple webapp using Rust in WebAssembly.\n\nYou can check it out here:\nhttps://github.com/Bennebotix/EIDOS"

	documentVersion = 11
	seedAlphabet    = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	seedLength      = 32
)

// SeedSource supplies the 32-character alphanumeric randomSeed string
// embedded in an exported document. Generating that string is an
// external-collaborator concern (spec.md §1/§6): BuildDocument never
// picks its own entropy source, it only consumes whatever SeedSource
// returns.
type SeedSource interface {
	Seed() (string, error)
}

// CryptoSeedSource draws seedLength characters from crypto/rand,
// the default SeedSource when none is supplied.
type CryptoSeedSource struct{}

func (CryptoSeedSource) Seed() (string, error) {
	buf := make([]byte, seedLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate random seed: %w", err)
	}
	out := make([]byte, seedLength)
	for i, b := range buf {
		out[i] = seedAlphabet[int(b)%len(seedAlphabet)]
	}
	return string(out), nil
}

// Document mirrors the Desmos graphing-calculator state schema exactly,
// grounded on original_source/rust/src/desmos.rs's serde-tagged structs.
type Document struct {
	Version                                int             `json:"version"`
	RandomSeed                             string          `json:"randomSeed"`
	Graph                                  GraphSettings   `json:"graph"`
	Expressions                            ExpressionList  `json:"expressions"`
	IncludeFunctionParametersInRandomSeed  bool            `json:"includeFunctionParametersInRandomSeed"`
	DoNotMigrateMovablePointStyle          bool            `json:"doNotMigrateMovablePointStyle"`
}

type GraphSettings struct {
	Viewport Viewport `json:"viewport"`
}

type Viewport struct {
	XMin float64 `json:"xmin"`
	YMin float64 `json:"ymin"`
	XMax float64 `json:"xmax"`
	YMax float64 `json:"ymax"`
}

type ExpressionList struct {
	List []Expression `json:"list"`
}

// Expression is one entry in the exported expression list: a text note,
// a folder, or a shape. Each concrete type marshals its own "type" tag
// to reproduce serde's internally-tagged enum encoding.
type Expression interface {
	isExpression()
}

type TextExpression struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

func (TextExpression) isExpression() {}

func (t TextExpression) MarshalJSON() ([]byte, error) {
	type alias TextExpression
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{Type: "text", alias: alias(t)})
}

type FolderExpression struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Hidden    bool   `json:"-"`
	Collapsed bool   `json:"-"`
}

func (FolderExpression) isExpression() {}

func (f FolderExpression) MarshalJSON() ([]byte, error) {
	m := map[string]any{
		"type":  "folder",
		"id":    f.ID,
		"title": f.Title,
	}
	if f.Hidden {
		m["hidden"] = true
	}
	if f.Collapsed {
		m["collapsed"] = true
	}
	return json.Marshal(m)
}

type Domain struct {
	Min string `json:"min"`
	Max string `json:"max"`
}

type ShapeExpression struct {
	ID                string  `json:"id"`
	Color             string  `json:"color"`
	Latex             string  `json:"latex"`
	FolderID          *string `json:"folderId,omitempty"`
	Fill              *bool   `json:"fill,omitempty"`
	Lines             *bool   `json:"lines,omitempty"`
	FillOpacity       *string `json:"fillOpacity,omitempty"`
	LineWidth         *string `json:"lineWidth,omitempty"`
	Domain            *Domain `json:"domain,omitempty"`
	ParametricDomain  *Domain `json:"parametricDomain,omitempty"`
}

func (ShapeExpression) isExpression() {}

func (s ShapeExpression) MarshalJSON() ([]byte, error) {
	type alias ShapeExpression
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{Type: "expression", alias: alias(s)})
}

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }

// BuildDocument assembles the exported Desmos document from a finished
// set of committed shapes, per spec.md §6's coordinate transform and
// LaTeX formatting rules.
//
// Grounded on original_source/rust/src/lib.rs's get_json: fixed
// metadata ids/text, the viewport derived from aspect ratio, the
// per-shape coordinate/radius/rotation transform into Desmos space, and
// the 3-decimal LaTeX conic-inequality template.
func BuildDocument(shapes []Ellipse, width, height int, seeds SeedSource) (Document, error) {
	if seeds == nil {
		seeds = CryptoSeedSource{}
	}
	seed, err := seeds.Seed()
	if err != nil {
		return Document{}, err
	}

	w, h := float64(width), float64(height)
	aspect := w / h
	ymin, ymax := -10.0, 10.0
	xmax := 10.0 * aspect
	xmin := -xmax

	expressions := []Expression{
		TextExpression{ID: authorID, Text: authorText},
		TextExpression{ID: instructionsID, Text: instructionsText},
		TextExpression{ID: githubID, Text: githubText},
		FolderExpression{ID: folderID, Title: folderTitle, Hidden: true, Collapsed: true},
	}

	scaleFactor := 20.0 / h
	for i, shape := range shapes {
		cx := (shape.X/w)*(20.0*aspect) - (10.0 * aspect)
		cy := -((shape.Y/h)*20.0 - 10.0)

		rx := shape.RX * scaleFactor
		ry := shape.RY * scaleFactor
		rot := -shape.Angle

		cos := math.Cos(rot)
		sin := math.Sin(rot)

		colorHex := fmt.Sprintf("#%02x%02x%02x", shape.R, shape.G, shape.B)
		opacity := fmt.Sprintf("%.3f", float64(shape.A)/255.0)

		latex := fmt.Sprintf(
			`\frac{\left(\left(x-%.3f\right)\cdot%.3f+\left(y-%.3f\right)\cdot%.3f\right)^{2}}{%.3f^{2}}+\frac{\left(\left(x-%.3f\right)\cdot%.3f-\left(y-%.3f\right)\cdot%.3f\right)^{2}}{%.3f^{2}}\le1`,
			cx, cos, cy, sin, rx,
			cx, sin, cy, cos, ry,
		)

		expressions = append(expressions, ShapeExpression{
			ID:          fmt.Sprintf("%d", i+minShapeID),
			FolderID:    strPtr(folderID),
			Color:       colorHex,
			Latex:       latex,
			Fill:        boolPtr(true),
			Lines:       boolPtr(false),
			FillOpacity: strPtr(opacity),
			LineWidth:   strPtr("0"),
		})
	}

	return Document{
		Version:    documentVersion,
		RandomSeed: seed,
		Graph: GraphSettings{
			Viewport: Viewport{XMin: xmin, YMin: ymin, XMax: xmax, YMax: ymax},
		},
		Expressions:                           ExpressionList{List: expressions},
		IncludeFunctionParametersInRandomSeed: true,
		DoNotMigrateMovablePointStyle:         true,
	}, nil
}
