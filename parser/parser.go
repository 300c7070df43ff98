// Package parser extracts per-page text from uploaded documents.
package parser

import "context"

// Page is the extracted text of a single page, 1-indexed.
type Page struct {
	Number int
	Text   string
}

// Parser extracts ordered page texts from raw document bytes.
type Parser interface {
	Parse(ctx context.Context, data []byte) ([]Page, error)
}
