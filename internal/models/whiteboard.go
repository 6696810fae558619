package models

import "encoding/json"

// WhiteboardSnapshot is a full replace-style whiteboard payload. The element
// and view-state bodies are kept as raw JSON so a received snapshot can be
// re-broadcast byte-for-byte without field loss. Concurrent edits are last
// writer wins at snapshot granularity; there is no merge.
type WhiteboardSnapshot struct {
	Elements  []json.RawMessage `json:"elements"`
	ViewState json.RawMessage   `json:"view_state,omitempty"`
	Timestamp int64             `json:"timestamp"`
}
