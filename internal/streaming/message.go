package streaming

import (
	"encoding/json"
	"errors"
)

type MessageType string

const (
	MessageTypeTransaction MessageType = "transaction"
	MessageTypeActivity    MessageType = "activity"
)

// Message is the wire envelope published to the activity topic. One message
// is emitted per transaction lifecycle transition and per observed chain
// event, so external consumers can mirror the dashboard's feeds.
type Message struct {
	Type         MessageType `json:"type"`
	Address      string      `json:"address"`
	TraceID      string      `json:"trace_id,omitempty"`
	Hash         string      `json:"hash,omitempty"`
	TxType       string      `json:"tx_type,omitempty"`
	FunctionName string      `json:"function_name,omitempty"`
	To           string      `json:"to,omitempty"`
	Amount       string      `json:"amount,omitempty"`
	Status       string      `json:"status,omitempty"`
	Error        string      `json:"error,omitempty"`
	ActivityType string      `json:"activity_type,omitempty"`
	Title        string      `json:"title,omitempty"`
	Description  string      `json:"description,omitempty"`
	Time         int64       `json:"time,omitempty"`
}

func Encode(msg Message) ([]byte, error) {
	if msg.Type == "" {
		return nil, errors.New("message type is required")
	}
	if msg.Address == "" {
		return nil, errors.New("address is required")
	}
	if msg.Type == MessageTypeTransaction && msg.Hash == "" {
		return nil, errors.New("hash is required for transaction messages")
	}
	return json.Marshal(msg)
}

func Decode(payload []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, err
	}
	if msg.Type == "" {
		return Message{}, errors.New("message type is missing")
	}
	if msg.Address == "" {
		return Message{}, errors.New("address is missing")
	}
	return msg, nil
}
