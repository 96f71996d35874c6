package directory

import (
	"errors"

	"github.com/GGPrompts/vibe4vets-sub003/directory/internal/scheduler"
)

// ErrInvalidInput is returned when a request fails validation.
var ErrInvalidInput = errors.New("directory: invalid input")

// ErrNotFound is returned when a resource, review or source does not exist.
var ErrNotFound = errors.New("directory: not found")

// ErrJobNotFound is returned for an unregistered job name.
var ErrJobNotFound = scheduler.ErrJobNotFound

// ErrInvalidSchedule is returned for a cron expression that is not exactly
// five fields or does not parse. It surfaces from New, never at run time.
var ErrInvalidSchedule = scheduler.ErrInvalidSchedule

// ErrStopped is returned for a job run requested after Close.
var ErrStopped = scheduler.ErrStopped
