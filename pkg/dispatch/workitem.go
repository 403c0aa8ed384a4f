package dispatch

import "encoding/json"

// workItem is what BR actually pushes onto the shared work list. The
// client-facing frame alone carries no connId, but RW needs one to
// know which resp:<connId> list to answer into, so BR wraps the raw
// frame with the connId it arrived on.
type workItem struct {
	ConnID string          `json:"connId"`
	Frame  json.RawMessage `json:"frame"`
}

func encodeWorkItem(connID string, frame []byte) ([]byte, error) {
	return json.Marshal(workItem{ConnID: connID, Frame: frame})
}

func decodeWorkItem(raw []byte) (workItem, error) {
	var item workItem
	err := json.Unmarshal(raw, &item)
	return item, err
}
