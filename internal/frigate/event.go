package frigate

import "encoding/json"

// Event is the subset of the NVR's MQTT message the bridge acts on.
type Event struct {
	Type    string
	Camera  string
	Label   string
	EventID string
}

type wireEvent struct {
	Type  string `json:"type"`
	After struct {
		ID     string `json:"id"`
		Camera string `json:"camera"`
		Label  string `json:"label"`
	} `json:"after"`
}

// ParseEvent decodes one inbound message. The second return is false when
// the message is malformed or filtered: only a "new" person detection with
// a non-empty event id triggers work.
func ParseEvent(payload []byte) (*Event, bool) {
	var w wireEvent
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, false
	}
	if w.Type != "new" || w.After.Label != "person" || w.After.ID == "" {
		return nil, false
	}
	camera := w.After.Camera
	if camera == "" {
		camera = "unknown"
	}
	return &Event{
		Type:    w.Type,
		Camera:  camera,
		Label:   w.After.Label,
		EventID: w.After.ID,
	}, true
}
