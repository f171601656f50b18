package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart    Stage = "RUN_START"
	StageRunDone     Stage = "RUN_DONE"
	StagePageVisit   Stage = "PAGE_VISIT"
	StagePageSkip    Stage = "PAGE_SKIP"
	StagePageFound   Stage = "PAGE_FOUND"
	StageExtractDone Stage = "EXTRACT_DONE"
)

// Job names the pass that produced an event.
type Job string

// Supported jobs.
const (
	JobCrawl   Job = "crawl"
	JobExtract Job = "extract"
)

// Outcome classifies a finished extraction.
type Outcome string

// Extraction outcomes.
const (
	// OutcomeExtracted means at least one footer field was read.
	OutcomeExtracted Outcome = "extracted"
	// OutcomeDefaulted means the footer was present but every field defaulted.
	OutcomeDefaulted Outcome = "defaulted"
	// OutcomeFailed means the page could not be read and a defaulted record
	// was substituted.
	OutcomeFailed Outcome = "failed"
)

// Event captures a single step of a run.
type Event struct {
	// RunID identifies the run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS    time.Time
	Stage Stage
	Job   Job
	// URL is the page address for page-level stages.
	URL    string
	PageID string
	// Outcome is set on EXTRACT_DONE.
	Outcome Outcome
	// Class is the oracle failure class for skips and failed extractions.
	Class string
	// Attempts counts oracle attempts spent on an extraction.
	Attempts int
	// Dur is the page or run latency.
	Dur time.Duration
	// Note carries low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Job {
	case JobCrawl, JobExtract:
	default:
		return fmt.Errorf("unknown job %q", e.Job)
	}
	switch e.Stage {
	case StageRunStart, StageRunDone:
	case StagePageVisit, StagePageSkip, StagePageFound:
		if e.URL == "" {
			return fmt.Errorf("%s requires url", e.Stage)
		}
	case StageExtractDone:
		if e.PageID == "" {
			return errors.New("extract done requires page id")
		}
		if e.Outcome == "" {
			return errors.New("extract done requires outcome")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

// ParseRunID decodes a textual run ID into the Event form.
func ParseRunID(s string) ([16]byte, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return [16]byte{}, fmt.Errorf("parse run id: %w", err)
	}
	return UUIDToBytes(id), nil
}
