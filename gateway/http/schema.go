package http

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

type compiledSchema struct {
	name   string
	schema *gojsonschema.Schema
}

func mustCompile(name, src string) *compiledSchema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(fmt.Sprintf("compile %s schema: %v", name, err))
	}
	return &compiledSchema{name: name, schema: s}
}

// validate checks body against the schema and joins every violation into
// one message.
func (c *compiledSchema) validate(body []byte) error {
	result, err := c.schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("invalid %s request: %w", c.name, err)
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("invalid %s request: %s", c.name, strings.Join(msgs, "; "))
}

var predictSchema = mustCompile("predict", `{
  "type": "object",
  "properties": {
    "session_hash": {"type": ["string", "null"]},
    "example_id":   {"type": ["integer", "null"], "minimum": 0},
    "data":         {"type": ["array", "null"]},
    "state":        {},
    "fn_index":     {"type": ["integer", "null"], "minimum": 0}
  },
  "anyOf": [
    {"required": ["data"]},
    {"required": ["example_id"]}
  ]
}`)

var flagSchema = mustCompile("flag", `{
  "type": "object",
  "required": ["data"],
  "properties": {
    "data": {
      "type": "object",
      "required": ["input_data", "output_data"],
      "properties": {
        "input_data":  {"type": ["array", "null"]},
        "output_data": {"type": ["array", "null"]},
        "flag_option": {"type": ["string", "null"]},
        "flag_index":  {"type": ["integer", "null"], "minimum": 0}
      }
    }
  }
}`)

var interpretSchema = mustCompile("interpret", `{
  "type": "object",
  "required": ["data"],
  "properties": {
    "data": {"type": "array"}
  }
}`)

var queuePushSchema = mustCompile("queue push", `{
  "type": "object",
  "required": ["action", "data"],
  "properties": {
    "action": {"enum": ["predict", "interpret"]},
    "data":   {"type": "object"}
  }
}`)

var queueStatusSchema = mustCompile("queue status", `{
  "type": "object",
  "required": ["hash"],
  "properties": {
    "hash": {"type": "string", "minLength": 1}
  }
}`)
