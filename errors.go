package examparse

import "errors"

var (
	// ErrExamNotFound is returned when an exam ID does not exist.
	ErrExamNotFound = errors.New("examparse: exam not found")

	// ErrUnsupportedFormat is returned for unrecognized file formats.
	ErrUnsupportedFormat = errors.New("examparse: unsupported document format")

	// ErrExtractionFailed is returned when the fragment extractor fails.
	ErrExtractionFailed = errors.New("examparse: extraction failed")

	// ErrEmptyDocument is returned for zero-length input files.
	ErrEmptyDocument = errors.New("examparse: empty document")

	// ErrStoreClosed is returned when operating on a closed engine.
	ErrStoreClosed = errors.New("examparse: store is closed")

	// ErrInvalidConfig is returned for invalid configuration values.
	ErrInvalidConfig = errors.New("examparse: invalid configuration")

	// ErrJobNotFound is returned when a job ID does not exist.
	ErrJobNotFound = errors.New("examparse: job not found")

	// ErrJobNotResumable is returned when a job is in a state that does not
	// allow the requested transition.
	ErrJobNotResumable = errors.New("examparse: job not resumable")
)
