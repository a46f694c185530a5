package protocol

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/tidwall/gjson"
)

//go:embed schema/command.schema.json
var commandSchema []byte

const commandSchemaURL = "command.schema.json"

// ErrInvalidEnvelope is returned for payloads that are not a valid command envelope
var ErrInvalidEnvelope = errors.New("invalid command envelope")

// Decoder validates and decodes command envelopes
type Decoder struct {
	schema *jsonschema.Schema
}

// NewDecoder compiles the embedded command schema
func NewDecoder() (*Decoder, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(commandSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to parse command schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource(commandSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("failed to add command schema: %w", err)
	}
	schema, err := c.Compile(commandSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("failed to compile command schema: %w", err)
	}
	return &Decoder{schema: schema}, nil
}

// Decode validates payload and extracts a Request. On failure the returned
// Request still carries whatever command and request_id could be read, so
// the error response can echo them.
func (d *Decoder) Decode(payload []byte) (Request, error) {
	req := Request{
		Command:   gjson.GetBytes(payload, "command").String(),
		RequestID: gjson.GetBytes(payload, "request_id").String(),
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(payload))
	if err != nil {
		return req, fmt.Errorf("%w: malformed JSON: %w", ErrInvalidEnvelope, err)
	}
	if err := d.schema.Validate(inst); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			return req, fmt.Errorf("%w: %s", ErrInvalidEnvelope, flatten(verr))
		}
		return req, fmt.Errorf("%w: %w", ErrInvalidEnvelope, err)
	}

	// top level wins over the dashboard's nested form
	for _, r := range gjson.GetManyBytes(payload, "interval_hours", "data.interval_hours") {
		if r.Exists() {
			hours := int(r.Int())
			req.IntervalHours = &hours
			break
		}
	}
	return req, nil
}

// flatten keeps the per-location lines of a validation error
func flatten(verr *jsonschema.ValidationError) string {
	var msgs []string
	for _, line := range strings.Split(verr.Error(), "\n") {
		line = strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(line, "- "); ok {
			msgs = append(msgs, rest)
		}
	}
	if len(msgs) == 0 {
		return verr.Error()
	}
	return strings.Join(msgs, "; ")
}
