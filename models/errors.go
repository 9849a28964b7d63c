package models

import "errors"

// Error taxonomy of the engine. Individual bad samples are dropped and
// counted; insufficient sources and outages drive monitor states; a
// publication conflict indicates a broken serialization assumption and is
// fatal.
var (
	ErrInvalidSample       = errors.New("invalid sample")
	ErrInsufficientSources = errors.New("insufficient sources")
	ErrOutageExceeded      = errors.New("outage exceeded")
	ErrPublicationConflict = errors.New("publication conflict")
)
