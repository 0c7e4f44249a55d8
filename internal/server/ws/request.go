package ws

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/alanyoungcy/tickreplay/internal/domain"
)

// sessionRequestSchema describes the first frame a replay client sends.
const sessionRequestSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "id": {"type": "string", "maxLength": 128, "pattern": "^[A-Za-z0-9._:-]*$"},
    "ups": {"type": "integer", "minimum": 0},
    "downs": {"type": "integer", "minimum": 0},
    "useAvgBidVsAvgAsk": {"type": "boolean"},
    "useShortVsLongMovAvg": {"type": "boolean"},
    "useSumAmtUpVsDown": {"type": "boolean"},
    "useTradePriceCloserToAskVsBuy": {"type": "boolean"}
  },
  "additionalProperties": false
}`

// RequestValidator checks session requests against a Draft 7 JSON Schema.
type RequestValidator struct {
	schema *jsonschema.Schema
}

// NewRequestValidator compiles the session request schema.
func NewRequestValidator() (*RequestValidator, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft7
	if err := compiler.AddResource("session_request.json", bytes.NewReader([]byte(sessionRequestSchema))); err != nil {
		return nil, fmt.Errorf("ws: add schema resource: %w", err)
	}
	schema, err := compiler.Compile("session_request.json")
	if err != nil {
		return nil, fmt.Errorf("ws: compile schema: %w", err)
	}
	return &RequestValidator{schema: schema}, nil
}

// Parse validates raw and decodes it. Failures wrap domain.ErrInvalidRequest.
func (v *RequestValidator) Parse(raw []byte) (domain.TradingConfig, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return domain.TradingConfig{}, fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}
	if err := v.schema.Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			leaf := ve
			for len(leaf.Causes) > 0 {
				leaf = leaf.Causes[0]
			}
			return domain.TradingConfig{}, fmt.Errorf("%w: %s: %s", domain.ErrInvalidRequest, leaf.InstanceLocation, leaf.Message)
		}
		return domain.TradingConfig{}, fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}

	var cfg domain.TradingConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return domain.TradingConfig{}, fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}
	return cfg, nil
}
