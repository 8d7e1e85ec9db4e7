// Package status normalizes raw JSON status events.
package status

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"topograph/internal/logger"
	"topograph/pkg/models"
)

// ErrMissingDevice is returned for events that name no device.
var ErrMissingDevice = errors.New("event has no device")

var severityNames = map[string]int{
	"clear":    models.SeverityClear,
	"cleared":  models.SeverityClear,
	"debug":    models.SeverityDebug,
	"info":     models.SeverityInfo,
	"warning":  models.SeverityWarning,
	"warn":     models.SeverityWarning,
	"error":    models.SeverityError,
	"critical": models.SeverityCritical,
}

// Parse converts a raw JSON status event into a normalized Event.
func Parse(data []byte) (*models.Event, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	event := &models.Event{
		ID:         getString(raw, "id", "evid", "event.id"),
		Device:     strings.TrimSpace(getString(raw, "device", "device.id", "host.name", "hostname")),
		Component:  getString(raw, "component", "device.component"),
		EventClass: getString(raw, "event_class", "eventClass", "event.class"),
		Summary:    getString(raw, "summary", "message"),
		Raw:        raw,
	}
	if event.Device == "" {
		return nil, ErrMissingDevice
	}

	sev, ok := getSeverity(raw, "severity", "event.severity")
	if !ok {
		logger.Warnf("Missing severity, treating as info (device=%s, id=%s)", event.Device, event.ID)
		sev = models.SeverityInfo
	}
	event.Severity = sev

	if v, ok := getPath(raw, "fields"); ok {
		if m, ok := v.(map[string]interface{}); ok {
			event.Fields = m
		}
	}

	for _, path := range []string{"@timestamp", "timestamp", "ts"} {
		v, ok := getPath(raw, path)
		if !ok {
			continue
		}
		if t, ok := parseTime(v); ok {
			event.Timestamp = t
			break
		}
	}
	return event, nil
}

func parseTime(v interface{}) (time.Time, bool) {
	switch val := v.(type) {
	case float64:
		return fromUnix(int64(val)), val > 0
	case string:
		val = strings.TrimSpace(val)
		if val == "" {
			return time.Time{}, false
		}
		if n, err := strconv.ParseInt(val, 10, 64); err == nil && n > 0 {
			return fromUnix(n), true
		}
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
			if t, err := time.Parse(layout, val); err == nil {
				return t.UTC(), true
			}
		}
		for _, layout := range []string{
			"2006-01-02 15:04:05.000000",
			"2006-01-02 15:04:05.000",
			"2006-01-02 15:04:05",
		} {
			if t, err := time.ParseInLocation(layout, val, time.UTC); err == nil {
				return t.UTC(), true
			}
		}
	}
	return time.Time{}, false
}

// fromUnix accepts seconds or milliseconds.
func fromUnix(n int64) time.Time {
	if n > 1e11 {
		return time.UnixMilli(n).UTC()
	}
	return time.Unix(n, 0).UTC()
}

func getSeverity(root map[string]interface{}, paths ...string) (int, bool) {
	for _, path := range paths {
		v, ok := getPath(root, path)
		if !ok {
			continue
		}
		switch val := v.(type) {
		case float64:
			return int(val), true
		case string:
			val = strings.ToLower(strings.TrimSpace(val))
			if n, ok := severityNames[val]; ok {
				return n, true
			}
			if n, err := strconv.Atoi(val); err == nil {
				return n, true
			}
		}
	}
	return 0, false
}

func getString(root map[string]interface{}, paths ...string) string {
	for _, path := range paths {
		if v, ok := getPath(root, path); ok {
			switch val := v.(type) {
			case string:
				return val
			case float64:
				if val == float64(int64(val)) {
					return fmt.Sprintf("%d", int64(val))
				}
				return fmt.Sprintf("%f", val)
			}
		}
	}
	return ""
}

// getPath resolves a dotted path. A key containing dots is matched before
// descending into nested objects.
func getPath(root map[string]interface{}, path string) (interface{}, bool) {
	if v, ok := root[path]; ok {
		return v, true
	}
	parts := strings.Split(path, ".")
	var current interface{} = root
	for _, part := range parts {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		v, ok := m[part]
		if !ok {
			return nil, false
		}
		current = v
	}
	return current, true
}
