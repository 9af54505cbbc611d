package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart        Stage = "RUN_START"
	StageRunDone         Stage = "RUN_DONE"
	StageFetchDone       Stage = "FETCH_DONE"
	StageFetchError      Stage = "FETCH_ERROR"
	StageRequestDropped  Stage = "REQUEST_DROPPED"
	StageResponseDropped Stage = "RESPONSE_DROPPED"
	StageParseError      Stage = "PARSE_ERROR"
	StageItemScraped     Stage = "ITEM_SCRAPED"
	StageItemDropped     Stage = "ITEM_DROPPED"
	StageItemError       Stage = "ITEM_ERROR"
)

// StatusClass is a coarse HTTP response grouping.
type StatusClass string

// Supported HTTP status classes tracked for fetch completions.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusOther StatusClass = "other"
)

// Event captures one milestone of a crawl run.
type Event struct {
	// RunID identifies the engine run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// Spider names the spider driving the run.
	Spider string
	// Site scopes request-level events to a host label.
	Site string
	// URL is the request URL; it should not contain credentials.
	URL string
	// Bytes carries the response body size for fetch completions.
	Bytes int64
	// StatusClass groups HTTP response codes (2xx, 3xx, etc).
	StatusClass StatusClass
	// Dur is the fetch latency, or the run wall time for RUN_DONE.
	Dur time.Duration
	// ErrorClass is the crawler.Classify result for error stages.
	ErrorClass string
	// Note carries low-volume context such as a drop reason or error text.
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
	switch e.Stage {
	case StageRunStart, StageRunDone, StageItemScraped, StageItemDropped, StageItemError:
	case StageFetchDone:
		if e.Site == "" {
			return errors.New("fetch done requires site")
		}
		if e.StatusClass == "" {
			return errors.New("fetch done requires status class")
		}
	case StageFetchError, StageRequestDropped, StageResponseDropped, StageParseError:
		if e.URL == "" {
			return fmt.Errorf("%s requires url", e.Stage)
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

// ClassifyStatus groups HTTP status codes for fetch events.
func ClassifyStatus(code int) StatusClass {
	switch {
	case code >= 200 && code < 300:
		return Status2xx
	case code >= 300 && code < 400:
		return Status3xx
	case code >= 400 && code < 500:
		return Status4xx
	case code >= 500 && code < 600:
		return Status5xx
	default:
		return StatusOther
	}
}
