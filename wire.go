package acprpc

import (
	"encoding/json"
	"fmt"
)

// wireMessage is the on-the-wire JSON-RPC 2.0 envelope for a single
// request, notification, or response. There is no batch form; ACP
// connections exchange exactly one message per frame.
type wireMessage struct {
	V      string          `json:"jsonrpc"`
	ID     json.RawMessage `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`
}

func (w *wireMessage) isRequest() bool      { return w.Method != "" && len(w.ID) > 0 }
func (w *wireMessage) isNotification() bool { return w.Method != "" && len(w.ID) == 0 }
func (w *wireMessage) isResponse() bool     { return w.Method == "" && len(w.ID) > 0 }

func encodeRequest(id RequestID, method string, params json.RawMessage) ([]byte, error) {
	idb, err := id.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return json.Marshal(&wireMessage{V: Version, ID: idb, Method: method, Params: params})
}

func encodeNotification(method string, params json.RawMessage) ([]byte, error) {
	return json.Marshal(&wireMessage{V: Version, Method: method, Params: params})
}

func encodeResult(id RequestID, result json.RawMessage) ([]byte, error) {
	idb, err := id.MarshalJSON()
	if err != nil {
		return nil, err
	}
	if result == nil {
		result = json.RawMessage("null")
	}
	return json.Marshal(&wireMessage{V: Version, ID: idb, Result: result})
}

func encodeError(id RequestID, errv *Error) ([]byte, error) {
	idb, err := id.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return json.Marshal(&wireMessage{V: Version, ID: idb, Error: errv})
}

func decodeWire(raw []byte) (*wireMessage, error) {
	var w wireMessage
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return &w, nil
}
