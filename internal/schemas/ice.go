package schemas

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// ICEServer is a relay or STUN server as returned by credential providers.
// Providers disagree on whether "urls" is a string or a list, so both are accepted.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

func (s *ICEServer) UnmarshalJSON(b []byte) error {
	var raw struct {
		URLs       json.RawMessage `json:"urls"`
		URL        string          `json:"url"`
		Username   string          `json:"username"`
		Credential string          `json:"credential"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	s.Username, s.Credential = raw.Username, raw.Credential
	s.URLs = nil

	if len(raw.URLs) > 0 {
		var single string
		if err := json.Unmarshal(raw.URLs, &single); err == nil {
			s.URLs = []string{single}
		} else if err := json.Unmarshal(raw.URLs, &s.URLs); err != nil {
			return fmt.Errorf("invalid urls field: %w", err)
		}
	}
	if len(s.URLs) == 0 && raw.URL != "" {
		s.URLs = []string{raw.URL}
	}
	return nil
}

// WebRTC converts s into the pion representation used to configure a peer connection.
func (s ICEServer) WebRTC() webrtc.ICEServer {
	server := webrtc.ICEServer{URLs: s.URLs, Username: s.Username}
	if s.Credential != "" {
		server.Credential = s.Credential
		server.CredentialType = webrtc.ICECredentialTypePassword
	}
	return server
}
