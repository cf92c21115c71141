package routes

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
)

type timesyncRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
}

type timesyncResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  int64           `json:"result"`
}

// Timesync answers clock probes with the server's unix time in milliseconds. Requests are
// JSON-RPC style objects, or a batch of them, with method "timesync".
func (h *RouteHandler) Timesync(w http.ResponseWriter, req *http.Request) {
	body, err := io.ReadAll(io.LimitReader(req.Body, 16*1024))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	body = bytes.TrimSpace(body)
	batch := len(body) > 0 && body[0] == '['

	var probes []timesyncRequest
	if batch {
		err = json.Unmarshal(body, &probes)
	} else {
		probes = make([]timesyncRequest, 1)
		err = json.Unmarshal(body, &probes[0])
	}
	if err != nil {
		http.Error(w, "invalid timesync request", http.StatusBadRequest)
		return
	}

	now := h.now().UnixMilli()
	responses := make([]timesyncResponse, 0, len(probes))
	for _, p := range probes {
		if p.Method != "" && p.Method != "timesync" {
			continue
		}
		responses = append(responses, timesyncResponse{JSONRPC: "2.0", ID: p.ID, Result: now})
	}

	if !batch {
		if len(responses) == 0 {
			http.Error(w, "unknown method", http.StatusBadRequest)
			return
		}
		WriteJSON(w, responses[0])
		return
	}
	WriteJSON(w, responses)
}
