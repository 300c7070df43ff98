package mizan

import "errors"

var (
	// ErrInvalidInput is returned for malformed requests: missing fields,
	// non-PDF uploads, or files over the configured size limit.
	ErrInvalidInput = errors.New("mizan: invalid input")

	// ErrSessionGone is returned when an operation targets a session that
	// does not exist or was deleted while the operation was in flight.
	ErrSessionGone = errors.New("mizan: session gone")

	// ErrConflict is returned when the same file (name and size) is
	// uploaded twice into one session.
	ErrConflict = errors.New("mizan: duplicate upload")

	// ErrUpstreamUnavailable is returned when the graph backend or the
	// generative model cannot be reached.
	ErrUpstreamUnavailable = errors.New("mizan: upstream unavailable")

	// ErrExtractionMalformed names the case where the model's extract-mode
	// output is not valid JSON conforming to the extraction schema. No
	// operation of this package returns it: ingest switches to the fallback
	// extractor for that chunk instead.
	ErrExtractionMalformed = errors.New("mizan: extraction output malformed")

	// ErrEmbeddingUnavailable names the case where no embedding can be
	// computed for a text. No operation of this package returns it: ingest
	// drops the affected chunk instead.
	ErrEmbeddingUnavailable = errors.New("mizan: embedding unavailable")

	// ErrIngestFailed is returned when an ingest fails before the first
	// chunk was successfully persisted.
	ErrIngestFailed = errors.New("mizan: ingest failed")

	// ErrInternal is returned for unexpected downstream failures that have
	// no more specific kind.
	ErrInternal = errors.New("mizan: internal error")
)
