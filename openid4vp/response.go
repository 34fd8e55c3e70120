package openid4vp

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/kokukuma/dc-mediator/internal/logfields"
	"github.com/kokukuma/dc-mediator/protocol"
)

var descriptorFields = []string{"id", "format", "path"}

// ValidateResponse checks an authorization response posted by a wallet. It
// accepts a map, url.Values, or a JSON or form-encoded string.
func (p *Plugin) ValidateResponse(data interface{}) (*protocol.WalletResponse, error) {
	fields, err := responseFields(data)
	if err != nil {
		return nil, err
	}

	if code := stringField(fields, "error"); code != "" {
		return nil, &protocol.WalletError{
			Code:        code,
			Description: stringField(fields, "error_description"),
		}
	}

	resp := &protocol.WalletResponse{
		Protocol: p.id,
		Response: stringField(fields, "response"),
		IDToken:  stringField(fields, "id_token"),
		State:    stringField(fields, "state"),
	}

	if raw, ok := fields["presentation_submission"]; ok && raw != nil {
		sub, err := parseSubmission(raw)
		if err != nil {
			return nil, err
		}
		resp.PresentationSubmission = sub
	}

	resp.VPToken = vpToken(fields["vp_token"])

	if resp.VPToken == nil && resp.Response == "" {
		return nil, protocol.NewValidationError("response carries neither vp_token nor response")
	}

	if resp.VPToken != nil && resp.PresentationSubmission == nil {
		advisory := "vp_token without presentation_submission"
		logger.Warn("wallet response without presentation_submission",
			logfields.WithProtocol(p.id), logfields.WithAdvisory(advisory))
		resp.Advisories = append(resp.Advisories, advisory)
	}

	return resp, nil
}

func responseFields(data interface{}) (map[string]interface{}, error) {
	switch v := data.(type) {
	case map[string]interface{}:
		return v, nil
	case url.Values:
		return valuesFields(v), nil
	case []byte:
		return responseStringFields(string(v))
	case string:
		return responseStringFields(v)
	case nil:
		return nil, protocol.NewValidationError("response data is nil")
	default:
		return nil, protocol.NewValidationError("response data must be an object or a form-encoded string, got %T", data)
	}
}

func responseStringFields(s string) (map[string]interface{}, error) {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "{") {
		var fields map[string]interface{}
		if err := json.Unmarshal([]byte(s), &fields); err != nil {
			return nil, protocol.NewValidationError("response is not a JSON object: %v", err)
		}
		return fields, nil
	}

	values, err := url.ParseQuery(s)
	if err != nil {
		return nil, protocol.NewValidationError("response is not form-encoded: %v", err)
	}
	return valuesFields(values), nil
}

// vpToken returns the token as posted. Form posts carry DCQL responses as
// JSON text, which is decoded.
func vpToken(v interface{}) interface{} {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return nil
		}
		if strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[") {
			var decoded interface{}
			if err := json.Unmarshal([]byte(s), &decoded); err == nil {
				return decoded
			}
		}
		return t
	default:
		return t
	}
}

func parseSubmission(raw interface{}) (*protocol.PresentationSubmission, error) {
	if s, ok := raw.(string); ok {
		var decoded interface{}
		if err := json.Unmarshal([]byte(s), &decoded); err != nil {
			return nil, protocol.NewValidationError("presentation_submission is not valid JSON: %v", err)
		}
		raw = decoded
	}

	m, ok := raw.(map[string]interface{})
	if !ok {
		return nil, protocol.NewValidationError("presentation_submission must be an object")
	}

	if err := validateStructure(submissionSchema, "presentation_submission", m); err != nil {
		return nil, err
	}

	for _, name := range []string{"id", "definition_id"} {
		if stringField(m, name) == "" {
			return nil, protocol.NewValidationError("presentation_submission: missing %s", name)
		}
	}

	descriptors, _ := m["descriptor_map"].([]interface{})
	if len(descriptors) == 0 {
		return nil, protocol.NewValidationError("presentation_submission: missing descriptor_map")
	}

	for i, d := range descriptors {
		if err := checkDescriptor(fmt.Sprintf("descriptor_map[%d]", i), d); err != nil {
			return nil, err
		}
	}

	var sub protocol.PresentationSubmission
	if err := decodeTagged(m, &sub); err != nil {
		return nil, protocol.NewValidationError("presentation_submission: %v", err)
	}
	return &sub, nil
}

func checkDescriptor(where string, d interface{}) error {
	m, ok := d.(map[string]interface{})
	if !ok {
		return protocol.NewValidationError("presentation_submission %s: must be an object", where)
	}

	for _, name := range descriptorFields {
		if stringField(m, name) == "" {
			return protocol.NewValidationError("presentation_submission %s: missing %s", where, name)
		}
	}

	if nested, ok := m["path_nested"]; ok && nested != nil {
		return checkDescriptor(where+".path_nested", nested)
	}
	return nil
}

func stringField(m map[string]interface{}, name string) string {
	s, _ := m[name].(string)
	return s
}

func decodeTagged(input interface{}, out interface{}) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName: "json",
		Result:  out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}
