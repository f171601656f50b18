// Package system provides the wall clock used for crawl and scrape timestamps.
package system

import "time"

// Precision matches timestamptz, so a timestamp read back from Postgres equals
// the one written to the CSV archive.
const Precision = time.Microsecond

// Clock implements crawler.Clock in UTC at Precision.
type Clock struct {
	now func() time.Time
}

// New returns a Clock backed by time.Now.
func New() *Clock {
	return &Clock{now: time.Now}
}

// Now returns the current UTC time truncated to Precision.
func (c *Clock) Now() time.Time {
	now := time.Now
	if c != nil && c.now != nil {
		now = c.now
	}
	return now().UTC().Truncate(Precision)
}
