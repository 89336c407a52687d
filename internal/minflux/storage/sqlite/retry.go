package sqlite

import (
	"strings"
	"time"

	"github.com/banshee-data/minflux/internal/timeutil"
)

const (
	busyRetries   = 5
	busyBaseDelay = 10 * time.Millisecond
)

// retryOnBusy runs fn again with exponential backoff while SQLite reports
// the database as locked.
func retryOnBusy(clock timeutil.Clock, fn func() error) error {
	var err error
	delay := busyBaseDelay
	for attempt := 0; attempt < busyRetries; attempt++ {
		err = fn()
		if !isBusy(err) {
			return err
		}
		if attempt < busyRetries-1 {
			clock.Sleep(delay)
			delay *= 2
		}
	}
	return err
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}
