package events

import (
	"encoding/json"
	"time"
)

// EventData is the interface that all event data types must implement
type EventData interface {
	EventType() EventType
}

// MarketDataSyncedData reports the outcome of a market data sync run
type MarketDataSyncedData struct {
	Tickers  int      `json:"tickers"`
	Updated  int      `json:"updated"`
	Failed   []string `json:"failed,omitempty"`
	Duration float64  `json:"duration_seconds"`
}

// EventType returns the event type for MarketDataSyncedData
func (d *MarketDataSyncedData) EventType() EventType {
	return MarketDataSynced
}

// SnapshotsCapturedData reports a daily snapshot capture
type SnapshotsCapturedData struct {
	Date       string `json:"date"`
	Portfolios int    `json:"portfolios"`
	Holdings   int    `json:"holdings"`
}

// EventType returns the event type for SnapshotsCapturedData
func (d *SnapshotsCapturedData) EventType() EventType {
	return SnapshotsCaptured
}

// PortfolioChangedData is emitted after a portfolio or its holdings change
type PortfolioChangedData struct {
	UserID      string `json:"user_id"`
	PortfolioID string `json:"portfolio_id"`
	Action      string `json:"action"`
}

// EventType returns the event type for PortfolioChangedData
func (d *PortfolioChangedData) EventType() EventType {
	return PortfolioChanged
}

// BackupCompletedData reports an uploaded backup
type BackupCompletedData struct {
	Key   string `json:"key"`
	Bytes int64  `json:"bytes"`
}

// EventType returns the event type for BackupCompletedData
func (d *BackupCompletedData) EventType() EventType {
	return BackupCompleted
}

// JobFailedData reports a scheduled job failure
type JobFailedData struct {
	Job   string `json:"job"`
	Error string `json:"error"`
}

// EventType returns the event type for JobFailedData
func (d *JobFailedData) EventType() EventType {
	return JobFailed
}

// EventWithData is the wire form of an event
type EventWithData struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Module    string    `json:"module"`
	Data      EventData `json:"data"`
}

// NewEventWithData converts a bus event to its wire form
func NewEventWithData(ev *Event) *EventWithData {
	return &EventWithData{Type: ev.Type, Timestamp: ev.Timestamp, Module: ev.Module, Data: ev.Data}
}

// UnmarshalJSON decodes data into the concrete type for the event type
func (e *EventWithData) UnmarshalJSON(data []byte) error {
	type Alias EventWithData
	aux := &struct {
		Data json.RawMessage `json:"data"`
		*Alias
	}{
		Alias: (*Alias)(e),
	}

	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}
	if len(aux.Data) == 0 || string(aux.Data) == "null" {
		return nil
	}

	var eventData EventData
	switch aux.Type {
	case MarketDataSynced:
		eventData = &MarketDataSyncedData{}
	case SnapshotsCaptured:
		eventData = &SnapshotsCapturedData{}
	case PortfolioChanged:
		eventData = &PortfolioChangedData{}
	case BackupCompleted:
		eventData = &BackupCompletedData{}
	case JobFailed:
		eventData = &JobFailedData{}
	default:
		eventData = &GenericEventData{Type: aux.Type}
	}

	if err := json.Unmarshal(aux.Data, eventData); err != nil {
		return err
	}
	e.Data = eventData
	return nil
}

// GenericEventData is a fallback for events without a specific type
type GenericEventData struct {
	Type EventType              `json:"-"`
	Data map[string]interface{} `json:"-"`
}

// EventType returns the event type for GenericEventData
func (d *GenericEventData) EventType() EventType {
	return d.Type
}

// MarshalJSON customizes JSON serialization for GenericEventData
func (d *GenericEventData) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Data)
}

// UnmarshalJSON customizes JSON deserialization for GenericEventData
func (d *GenericEventData) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &d.Data)
}
