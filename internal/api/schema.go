package api

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

const layerResultSchema = `{
	"type": "object",
	"properties": {
		"flagged":  {"type": "boolean"},
		"label":    {"type": "boolean"},
		"reason":   {"type": ["string", "null"]},
		"category": {"type": ["string", "null"]}
	}
}`

var (
	scanSchema = mustSchema(`{
		"type": "object",
		"required": ["text", "direction"],
		"properties": {
			"text":      {"type": "string"},
			"filename":  {"type": "string"},
			"direction": {"enum": ["prompt", "output"]},
			"kind":      {"enum": ["", "code", "text"]}
		}
	}`)

	executionSchema = mustSchema(`{
		"type": "object",
		"required": ["execution_id"],
		"properties": {
			"execution_id": {"type": "string", "minLength": 1, "maxLength": 128},
			"prompt":       {"type": "string"},
			"agent_name":   {"type": "string", "minLength": 1},
			"task":         {"type": ["string", "null"]},
			"output":       {"type": ["string", "null"]},
			"sentinel_result": {
				"type": "object",
				"properties": {
					"L1":          ` + layerResultSchema + `,
					"L2":          ` + layerResultSchema + `,
					"L3":          ` + layerResultSchema + `,
					"semantic":    ` + layerResultSchema + `,
					"llama_guard": ` + layerResultSchema + `
				}
			}
		},
		"anyOf": [
			{"required": ["prompt"]},
			{"required": ["agent_name"]}
		]
	}`)

	overrideSchema = mustSchema(`{
		"type": "object",
		"required": ["execution_id", "layer", "action"],
		"properties": {
			"execution_id": {"type": "string", "minLength": 1},
			"layer":        {"enum": ["L1", "L2", "L3", "semantic"]},
			"agent_name":   {"type": "string"},
			"action":       {"enum": ["accept", "reject"]},
			"reason":       {"type": ["string", "null"]},
			"user_id":      {"type": ["string", "null"]}
		}
	}`)

	finalizeSchema = mustSchema(`{
		"type": "object",
		"required": ["execution_id"],
		"properties": {
			"execution_id": {"type": "string", "minLength": 1},
			"final_state":  {"type": ["string", "null"]}
		}
	}`)
)

func mustSchema(src string) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(fmt.Sprintf("compile schema: %v", err))
	}
	return s
}

// validate checks body against schema and joins every violation into one
// message.
func validate(schema *gojsonschema.Schema, body []byte) error {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		msgs = append(msgs, desc.String())
	}
	return fmt.Errorf("%s", strings.Join(msgs, "; "))
}
