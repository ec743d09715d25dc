package realtime

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/listlane/listlane/internal/listlane"
)

// Envelope is the wire frame for every channel message. Outbound frames
// carry the caller's token in jwt; inbound frames have it stripped by the
// backend before broadcast.
type Envelope struct {
	Type     string          `json:"type"`
	Instance string          `json:"instance"`
	JWT      string          `json:"jwt,omitempty"`
	Payload  json.RawMessage `json:"payload"`
}

type ProjectPayload struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	After string `json:"after"`
}

type GroupPayload struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	ProjectID string `json:"projectid"`
	After     string `json:"after"`
}

type TaskPayload struct {
	ID     string              `json:"id"`
	Text   string              `json:"text"`
	Group  string              `json:"group"`
	Status listlane.TaskStatus `json:"status,omitempty"`
	After  string              `json:"after"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

// NewEnvelope frames a payload for sending.
func NewEnvelope(kind Kind, instance string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: string(kind), Instance: instance, Payload: raw}, nil
}

func (e Envelope) Kind() (Kind, bool) {
	return ParseKind(e.Type)
}

const envelopeSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"properties": {
		"type": {
			"type": "string",
			"enum": [
				"project-add", "project-update", "project-delete",
				"group-add", "group-update", "group-delete",
				"task-add", "task-update", "task-edit", "task-delete",
				"error"
			]
		},
		"instance": {"type": "string"},
		"jwt": {"type": "string"},
		"payload": {"type": "object"}
	},
	"required": ["type", "instance", "payload"]
}`

var (
	envelopeSchemaOnce     sync.Once
	compiledEnvelopeSchema *jsonschema.Schema
	envelopeSchemaErr      error
)

func loadEnvelopeSchema() (*jsonschema.Schema, error) {
	envelopeSchemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(envelopeSchema))
		if err != nil {
			envelopeSchemaErr = err
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("envelope.json", doc); err != nil {
			envelopeSchemaErr = err
			return
		}
		compiledEnvelopeSchema, envelopeSchemaErr = compiler.Compile("envelope.json")
	})
	return compiledEnvelopeSchema, envelopeSchemaErr
}

// ValidateFrame checks a raw inbound frame against the envelope schema
// before anything decodes it.
func ValidateFrame(raw []byte) error {
	schema, err := loadEnvelopeSchema()
	if err != nil {
		return err
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	if err := schema.Validate(instance); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	return nil
}

// DecodeFrame validates and decodes a raw inbound frame.
func DecodeFrame(raw []byte) (Envelope, error) {
	if err := ValidateFrame(raw); err != nil {
		return Envelope{}, err
	}
	var envelope Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	return envelope, nil
}
