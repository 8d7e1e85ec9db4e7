package models

import (
	"fmt"
	"time"
)

// Severity levels. SeverityClear is the lowest value and denotes a cleared event.
const (
	SeverityClear    = 0
	SeverityDebug    = 1
	SeverityInfo     = 2
	SeverityWarning  = 3
	SeverityError    = 4
	SeverityCritical = 5
)

// Event is a status or fault event concerning one device.
type Event struct {
	ID         string                 `json:"id,omitempty"`
	Device     string                 `json:"device"`
	Component  string                 `json:"component,omitempty"`
	EventClass string                 `json:"event_class"`
	Severity   int                    `json:"severity"`
	Timestamp  time.Time              `json:"@timestamp"`
	Summary    string                 `json:"summary,omitempty"`
	Fields     map[string]interface{} `json:"fields,omitempty"`

	// Set by suppression; RootCauses is a sorted, comma-joined list of entity ids.
	Suppressed bool   `json:"suppressed,omitempty"`
	RootCauses string `json:"root_causes,omitempty"`

	Raw map[string]interface{} `json:"-"`
}

// Cleared reports whether the event clears a previous fault.
func (e *Event) Cleared() bool {
	return e.Severity <= SeverityClear
}

// Field returns a field value.
func (e *Event) Field(name string) string {
	if e == nil || e.Fields == nil {
		return ""
	}
	v, ok := e.Fields[name]
	if !ok {
		return ""
	}
	switch val := v.(type) {
	case string:
		return val
	case fmt.Stringer:
		return val.String()
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%f", val)
	case bool:
		if val {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprintf("%v", val)
	}
}
