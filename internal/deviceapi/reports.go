package deviceapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/tinywideclouds/go-microservice-base/pkg/response"
)

// ReportEvent is a delivery or open receipt as received by the reporting API.
type ReportEvent struct {
	InstanceID string    `json:"instanceId"`
	EventType  string    `json:"eventType"`
	PublishID  string    `json:"publishId"`
	Timestamp  time.Time `json:"timestamp"`
}

// ReportLog keeps received receipts in memory.
type ReportLog struct {
	mu     sync.Mutex
	events []ReportEvent
	logger *slog.Logger
}

func NewReportLog(logger *slog.Logger) *ReportLog {
	return &ReportLog{logger: logger.With("component", "reporting-api")}
}

// Events returns the receipts recorded for instanceID, oldest first.
func (l *ReportLog) Events(instanceID string) []ReportEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []ReportEvent
	for _, ev := range l.events {
		if ev.InstanceID == instanceID {
			out = append(out, ev)
		}
	}
	return out
}

type submitEventRequest struct {
	PublishID string `json:"publishId"`
	Timestamp int64  `json:"timestamp"`
}

func (l *ReportLog) SubmitEvent(w http.ResponseWriter, r *http.Request) {
	eventType := r.PathValue("eventType")
	if eventType != "Delivery" && eventType != "Open" {
		response.WriteJSONError(w, http.StatusBadRequest, "unknown event type")
		return
	}

	var req submitEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.PublishID == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing publishId")
		return
	}

	ev := ReportEvent{
		InstanceID: r.PathValue("instanceId"),
		EventType:  eventType,
		PublishID:  req.PublishID,
		Timestamp:  time.UnixMilli(req.Timestamp).UTC(),
	}
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()

	l.logger.Info("SubmitEvent: receipt recorded", "instance_id", ev.InstanceID, "type", eventType, "publish_id", ev.PublishID)
	w.WriteHeader(http.StatusOK)
}
