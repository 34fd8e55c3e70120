package openid4vp

import (
	"strings"

	"github.com/samber/lo"
	"github.com/xeipuuv/gojsonschema"

	"github.com/kokukuma/dc-mediator/protocol"
)

// Structural checks only. Claim matching is left to the wallet.
const (
	presentationDefinitionSchema = `{
  "type": "object",
  "required": ["id", "input_descriptors"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "input_descriptors": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "constraints": {"type": "object"}
        }
      }
    }
  }
}`

	dcqlQuerySchema = `{
  "type": "object",
  "required": ["credentials"],
  "properties": {
    "credentials": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["id", "format"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "format": {"type": "string", "minLength": 1},
          "claims": {"type": "array"}
        }
      }
    },
    "credential_sets": {"type": "array"}
  }
}`

	// Required fields are checked separately so that the first missing one
	// is reported in descriptor order.
	presentationSubmissionSchema = `{
  "type": "object",
  "properties": {
    "id": {"type": "string"},
    "definition_id": {"type": "string"},
    "descriptor_map": {
      "type": "array",
      "items": {"$ref": "#/definitions/descriptor"}
    }
  },
  "definitions": {
    "descriptor": {
      "type": "object",
      "properties": {
        "id": {"type": "string"},
        "format": {"type": "string"},
        "path": {"type": "string"},
        "path_nested": {"$ref": "#/definitions/descriptor"}
      }
    }
  }
}`
)

var (
	pdSchema         = mustSchema(presentationDefinitionSchema)
	dcqlSchema       = mustSchema(dcqlQuerySchema)
	submissionSchema = mustSchema(presentationSubmissionSchema)
)

func mustSchema(s string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(s))
	if err != nil {
		panic(err)
	}
	return schema
}

func validateStructure(schema *gojsonschema.Schema, field string, v interface{}) error {
	res, err := schema.Validate(gojsonschema.NewGoLoader(v))
	if err != nil {
		return protocol.NewValidationError("invalid %s: %v", field, err)
	}
	if !res.Valid() {
		msgs := lo.Map(res.Errors(), func(e gojsonschema.ResultError, _ int) string {
			return e.String()
		})
		return protocol.NewValidationError("invalid %s: %s", field, strings.Join(msgs, "; "))
	}
	return nil
}
