// Package push decodes the push-delivery envelope posted to the population
// service. The shape follows the Pub/Sub push format: a wrapper naming the
// subscription, a message with string attributes and a base64 JSON body.
package push

import (
	"encoding/base64"
	"encoding/json"
	"io"

	"github.com/springfiles/edgecache/internal/httperr"
)

type Request struct {
	Message      Message `json:"message"`
	Subscription string  `json:"subscription"`
}

type Message struct {
	Attributes  map[string]string `json:"attributes,omitempty"`
	Data        string            `json:"data,omitempty"`
	MessageID   string            `json:"messageId"`
	PublishTime string            `json:"publishTime"`
}

// ObjectNotification identifies a finalized bucket/object pair on the
// upload path. Minimal subset of the storage object resource.
type ObjectNotification struct {
	Bucket string `json:"bucket"`
	Name   string `json:"name"`
}

// Decode parses a push envelope from the request body. All failures are
// client errors: a malformed envelope can never succeed on retry.
func Decode(body io.Reader) (*Request, error) {
	raw, err := io.ReadAll(io.LimitReader(body, 1<<20))
	if err != nil {
		return nil, httperr.BadRequest("read push envelope: %v", err)
	}
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, httperr.BadRequest("parse push envelope: %v", err)
	}
	if req.Message.Data == "" {
		return nil, httperr.BadRequest("message doesn't have data property")
	}
	return &req, nil
}

// RequireAttr fails unless the message carries attribute key=want.
func (m Message) RequireAttr(key, want string) error {
	if m.Attributes == nil || m.Attributes[key] != want {
		return httperr.BadRequest("expected %s=%s attribute", key, want)
	}
	return nil
}

// DecodeData base64-decodes the message body and unmarshals it into v.
func (m Message) DecodeData(v any) error {
	raw, err := base64.StdEncoding.DecodeString(m.Data)
	if err != nil {
		return httperr.BadRequest("decode message data: %v", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return httperr.BadRequest("parse message data: %v", err)
	}
	return nil
}
