package crawler

import (
	"time"

	"github.com/JakeFAU/page-provenance-crawler/internal/progress"
)

// reporter stamps progress events with the run identity.
type reporter struct {
	emitter progress.Emitter
	clock   Clock
	runID   [16]byte
	job     progress.Job
}

func newReporter(emitter progress.Emitter, clock Clock, runID [16]byte, job progress.Job) reporter {
	if emitter == nil {
		emitter = progress.Discard
	}
	return reporter{emitter: emitter, clock: clock, runID: runID, job: job}
}

func (r reporter) emit(evt progress.Event) {
	evt.RunID = r.runID
	evt.Job = r.job
	if evt.TS.IsZero() {
		evt.TS = r.now()
	}
	r.emitter.Emit(evt)
}

func (r reporter) now() time.Time {
	if r.clock == nil {
		return time.Now().UTC()
	}
	return r.clock.Now()
}
