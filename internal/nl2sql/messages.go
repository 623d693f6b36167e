package nl2sql

import (
	"encoding/json"
	"fmt"
)

type MessageKind string

const (
	KindQuestion          MessageKind = "question"
	KindClarification     MessageKind = "clarification"
	KindExtractionRequest MessageKind = "extraction_request"
)

// Message is any value that can travel on the workflow channel.
type Message interface {
	Kind() MessageKind
}

type UserQuestionMessage struct {
	Text string `json:"text"`
}

func (UserQuestionMessage) Kind() MessageKind { return KindQuestion }

// ClarificationMessage carries a user's reply to a clarification request.
type ClarificationMessage struct {
	Text     string             `json:"text"`
	Original string             `json:"original_query"`
	Missing  []MissingParameter `json:"missing,omitempty"`
}

func (ClarificationMessage) Kind() MessageKind { return KindClarification }

type ExtractionRequestMessage struct {
	Request ExtractionRequest `json:"request"`
}

func (ExtractionRequestMessage) Kind() MessageKind { return KindExtractionRequest }

type envelope struct {
	Kind    MessageKind     `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// EncodeMessage wraps a message with its kind so it can be carried as a string.
func EncodeMessage(msg Message) (string, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("marshal %s message: %w", msg.Kind(), err)
	}
	raw, err := json.Marshal(envelope{Kind: msg.Kind(), Payload: payload})
	if err != nil {
		return "", fmt.Errorf("marshal message envelope: %w", err)
	}
	return string(raw), nil
}

// DecodeMessage reverses EncodeMessage. Plain text that is not an envelope is
// treated as a user question.
func DecodeMessage(raw string) (Message, error) {
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil || env.Kind == "" {
		return UserQuestionMessage{Text: raw}, nil
	}
	switch env.Kind {
	case KindQuestion:
		var msg UserQuestionMessage
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			return nil, fmt.Errorf("decode question message: %w", err)
		}
		return msg, nil
	case KindClarification:
		var msg ClarificationMessage
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			return nil, fmt.Errorf("decode clarification message: %w", err)
		}
		return msg, nil
	case KindExtractionRequest:
		var msg ExtractionRequestMessage
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			return nil, fmt.Errorf("decode extraction request message: %w", err)
		}
		return msg, nil
	default:
		return nil, fmt.Errorf("unknown message kind %q", env.Kind)
	}
}
