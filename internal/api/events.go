package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawlengine/internal/progress"
)

const (
	defaultEventLimit = 100
	maxEventLimit     = 1000
)

// EventSource returns recent progress events, oldest first.
type EventSource interface {
	Events(stage progress.Stage, limit int) []progress.Event
}

// EventsHandler serves the recent progress events.
type EventsHandler struct {
	source EventSource
	logger *zap.Logger
}

// NewEventsHandler wires the source and logger.
func NewEventsHandler(source EventSource, logger *zap.Logger) *EventsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventsHandler{source: source, logger: logger}
}

// List handles GET /v1/events?stage=&limit=. It returns {"events": [...]},
// 400 for invalid filters, or 503 when progress reporting is off.
func (h *EventsHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.source == nil {
		writeError(w, http.StatusServiceUnavailable, "progress events unavailable")
		return
	}
	limit, err := parseLimit(r, defaultEventLimit, maxEventLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	stage, err := parseStage(r.URL.Query().Get("stage"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	events := h.source.Events(stage, limit)
	writeJSON(w, http.StatusOK, map[string]any{"events": toEventDTOs(events)})
}

func parseLimit(r *http.Request, def, maxLimit int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val <= 0 {
		return 0, errors.New("invalid limit")
	}
	return min(val, maxLimit), nil
}

func parseStage(input string) (progress.Stage, error) {
	input = strings.ToUpper(strings.TrimSpace(input))
	if input == "" {
		return "", nil
	}
	stage := progress.Stage(input)
	switch stage {
	case progress.StageRunStart, progress.StageRunDone, progress.StageFetchDone, progress.StageFetchError,
		progress.StageRequestDropped, progress.StageResponseDropped, progress.StageParseError,
		progress.StageItemScraped, progress.StageItemDropped, progress.StageItemError:
		return stage, nil
	default:
		return "", errors.New("invalid stage")
	}
}

type eventDTO struct {
	RunID       string    `json:"run_id"`
	TS          time.Time `json:"ts"`
	Stage       string    `json:"stage"`
	Spider      string    `json:"spider,omitempty"`
	Site        string    `json:"site,omitempty"`
	URL         string    `json:"url,omitempty"`
	Bytes       int64     `json:"bytes,omitempty"`
	StatusClass string    `json:"status_class,omitempty"`
	DurationMS  int64     `json:"duration_ms,omitempty"`
	ErrorClass  string    `json:"error_class,omitempty"`
	Note        string    `json:"note,omitempty"`
}

func toEventDTOs(in []progress.Event) []eventDTO {
	out := make([]eventDTO, 0, len(in))
	for _, evt := range in {
		out = append(out, eventDTO{
			RunID:       uuid.UUID(evt.RunID).String(),
			TS:          evt.TS,
			Stage:       string(evt.Stage),
			Spider:      evt.Spider,
			Site:        evt.Site,
			URL:         evt.URL,
			Bytes:       evt.Bytes,
			StatusClass: string(evt.StatusClass),
			DurationMS:  evt.Dur.Milliseconds(),
			ErrorClass:  evt.ErrorClass,
			Note:        evt.Note,
		})
	}
	return out
}
