package hub

import (
	"encoding/json"

	log "github.com/sirupsen/logrus"
)

// relay forwards an offer, answer or ice-candidate to the client named in "to". The sender id is
// re-stamped from the channel; every other field is passed through untouched. Messages to unknown
// clients, to the sender itself or across rooms are dropped.
func (h *Hub) relay(from *Client, data []byte) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		from.log.WithError(err).Warn("dropping malformed signal")
		return
	}

	var to string
	if raw, ok := fields["to"]; !ok || json.Unmarshal(raw, &to) != nil || to == "" {
		from.log.Warn("dropping signal without a target")
		return
	}
	entry := from.log.WithField("to", to)

	if to == from.ID || !h.registry.SameRoom(from.ID, to) {
		entry.Warn("dropping signal to a client outside the sender's room")
		return
	}
	target, ok := h.clients[to]
	if !ok {
		entry.Debug("dropping signal to a disconnected client")
		return
	}

	stamp, _ := json.Marshal(from.ID)
	fields["from"] = stamp
	out, err := json.Marshal(fields)
	if err != nil {
		log.WithError(err).Error("re-encoding signal")
		return
	}
	if !target.deliver(out) {
		target.log.Warn("send queue full, dropping signal")
	}
}
