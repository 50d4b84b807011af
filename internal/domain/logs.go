package domain

import (
	"encoding/json"
	"fmt"
)

// LogEntry is one bot log line pushed as a log event. Fields carries any
// extra structured keys beside level, message and timestamp.
type LogEntry struct {
	Level     LogLevel       `json:"level"`
	Message   string         `json:"message"`
	Timestamp string         `json:"timestamp"`
	Fields    map[string]any `json:"-"`
}

// UnmarshalJSON keeps unknown keys in Fields.
func (e *LogEntry) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("invalid log entry: %w", err)
	}

	*e = LogEntry{}
	for k, v := range raw {
		switch k {
		case "level":
			s, _ := v.(string)
			e.Level = LogLevel(s)
		case "message":
			s, _ := v.(string)
			e.Message = s
		case "timestamp":
			s, _ := v.(string)
			e.Timestamp = s
		default:
			if e.Fields == nil {
				e.Fields = make(map[string]any)
			}
			e.Fields[k] = v
		}
	}
	return nil
}

// MarshalJSON flattens Fields back into the object.
func (e LogEntry) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Fields)+3)
	for k, v := range e.Fields {
		out[k] = v
	}
	out["level"] = e.Level
	out["message"] = e.Message
	out["timestamp"] = e.Timestamp
	return json.Marshal(out)
}
