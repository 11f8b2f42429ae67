package enrichment

import "errors"

var (
	// ErrNotFound is returned when a job or entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrJobNotProcessing is returned when Complete or Fail targets a job
	// that is not currently leased.
	ErrJobNotProcessing = errors.New("job is not processing")
	// ErrNoWebsite signals that no candidate reached the acceptance threshold.
	ErrNoWebsite = errors.New("no website found")
)
