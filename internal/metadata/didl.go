// ABOUTME: DIDL-Lite metadata parsing
// ABOUTME: Extracts the stream URI and display fields from preset and track metadata
package metadata

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/antchfx/xmlquery"
)

// ResExpr selects the first res element in any namespace
const ResExpr = "//*[local-name()='res']"

var (
	// ErrMalformed is returned when the document is not well-formed XML
	ErrMalformed = errors.New("metadata: malformed document")

	// ErrNoURI is returned when the expression matches nothing
	ErrNoURI = errors.New("metadata: no stream URI")
)

// XPath resolves a stream URI by evaluating an XPath expression against
// a metadata document
type XPath struct {
	Expr string
}

// Default resolves the text of the first res element
var Default = XPath{Expr: ResExpr}

// ResolveURI returns the trimmed text of the first node matched by Expr
func (x XPath) ResolveURI(doc []byte) (string, error) {
	root, err := parse(doc)
	if err != nil {
		return "", err
	}

	expr := x.Expr
	if expr == "" {
		expr = ResExpr
	}

	node, err := xmlquery.Query(root, expr)
	if err != nil {
		return "", fmt.Errorf("metadata: bad expression %q: %w", expr, err)
	}
	if node == nil {
		return "", ErrNoURI
	}

	uri := strings.TrimSpace(node.InnerText())
	if uri == "" {
		return "", ErrNoURI
	}
	return uri, nil
}

// Track holds the display fields of a DIDL-Lite item
type Track struct {
	Title       string
	Artist      string
	Album       string
	AlbumArtURI string
	Class       string
	Duration    string
	URI         string
}

// ParseTrack reads the display fields of the first item in doc. Missing
// fields stay empty; only an unparseable document is an error.
func ParseTrack(doc []byte) (Track, error) {
	if len(bytes.TrimSpace(doc)) == 0 {
		return Track{}, nil
	}

	root, err := parse(doc)
	if err != nil {
		return Track{}, err
	}

	t := Track{
		Title:       text(root, "title"),
		Artist:      text(root, "artist"),
		Album:       text(root, "album"),
		AlbumArtURI: text(root, "albumArtURI"),
		Class:       text(root, "class"),
		URI:         text(root, "res"),
	}
	if t.Artist == "" {
		t.Artist = text(root, "creator")
	}
	if res := xmlquery.FindOne(root, ResExpr); res != nil {
		t.Duration = res.SelectAttr("duration")
	}
	return t, nil
}

func parse(doc []byte) (*xmlquery.Node, error) {
	root, err := xmlquery.Parse(bytes.NewReader(doc))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return root, nil
}

func text(root *xmlquery.Node, local string) string {
	node := xmlquery.FindOne(root, "//*[local-name()='"+local+"']")
	if node == nil {
		return ""
	}
	return strings.TrimSpace(node.InnerText())
}
