package model

import (
	"bytes"
	"encoding/json"
)

const (
	MessageLiveUpdate = "LIVE_UPDATE"
	MessageSubscribe  = "SUBSCRIBE"
)

// RaceID accepts both JSON numbers and strings. Numeric ids are written
// back as numbers.
type RaceID string

func (id RaceID) MarshalJSON() ([]byte, error) {
	if id == "" {
		return []byte("null"), nil
	}
	for i, r := range id {
		if r < '0' || r > '9' || (i == 0 && r == '0' && len(id) > 1) {
			return json.Marshal(string(id))
		}
	}
	return []byte(id), nil
}

func (id *RaceID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = RaceID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = RaceID(n.String())
	return nil
}

type LiveUpdateMessage struct {
	MessageType string            `json:"type"`
	Data        RaceStateSnapshot `json:"data"`
}

type SubscribeMessage struct {
	MessageType string `json:"type"`
	RaceID      RaceID `json:"raceId"`
}

// Message is the generic envelope used to peek at the type of an inbound frame.
type Message struct {
	MessageType string          `json:"type"`
	RaceID      RaceID          `json:"raceId,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
}
