package openid4vp

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/ory/go-convenience/stringslice"

	"github.com/kokukuma/dc-mediator/internal/logfields"
	"github.com/kokukuma/dc-mediator/protocol"
)

// jsonFields are carried as JSON text when a request is URL-encoded.
var jsonFields = []string{"presentation_definition", "dcql_query", "client_metadata"}

// authorizationParams lists the parameters PrepareRequest recognizes.
type authorizationParams struct {
	ClientID                  string      `json:"client_id"`
	ClientIDScheme            string      `json:"client_id_scheme"`
	ResponseType              string      `json:"response_type"`
	ResponseMode              string      `json:"response_mode"`
	ResponseURI               string      `json:"response_uri"`
	RedirectURI               string      `json:"redirect_uri"`
	Scope                     string      `json:"scope"`
	Nonce                     string      `json:"nonce"`
	State                     string      `json:"state"`
	RequestURI                string      `json:"request_uri"`
	Request                   string      `json:"request"`
	PresentationDefinition    interface{} `json:"presentation_definition"`
	PresentationDefinitionURI string      `json:"presentation_definition_uri"`
	DCQLQuery                 interface{} `json:"dcql_query"`
	ClientMetadata            interface{} `json:"client_metadata"`
}

// PrepareRequest accepts a URL-encoded request (a query string or a full URL),
// a JSON object string, url.Values, a map or an *protocol.AuthorizationRequest.
func (p *Plugin) PrepareRequest(data interface{}) (*protocol.AuthorizationRequest, error) {
	fields, err := requestFields(data)
	if err != nil {
		return nil, err
	}
	return p.normalize(fields)
}

func (p *Plugin) normalize(fields map[string]interface{}) (*protocol.AuthorizationRequest, error) {
	if err := decodeJSONFields(fields); err != nil {
		return nil, err
	}

	var params authorizationParams
	md := &mapstructure.Metadata{}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:  "json",
		Result:   &params,
		Metadata: md,
	})
	if err != nil {
		return nil, fmt.Errorf("create decoder: %w", err)
	}

	if err := dec.Decode(fields); err != nil {
		return nil, protocol.NewValidationError("malformed authorization request: %v", err)
	}

	if len(md.Keys) == 0 {
		return nil, protocol.NewValidationError("no recognizable authorization request fields")
	}

	if params.ClientID == "" {
		return nil, protocol.NewValidationError("missing client_id")
	}

	if params.ResponseMode != "" && !stringslice.Has(responseModes, params.ResponseMode) {
		return nil, protocol.NewValidationError("invalid response_mode %q: must be one of %s",
			params.ResponseMode, strings.Join(responseModes, ", "))
	}

	if err := checkRequirementSource(&params); err != nil {
		return nil, err
	}

	if params.PresentationDefinition != nil {
		if err := validateStructure(pdSchema, "presentation_definition", params.PresentationDefinition); err != nil {
			return nil, err
		}
	}

	if params.DCQLQuery != nil {
		if err := validateStructure(dcqlSchema, "dcql_query", params.DCQLQuery); err != nil {
			return nil, err
		}
	}

	req := &protocol.AuthorizationRequest{
		ClientID:                  params.ClientID,
		ClientIDScheme:            params.ClientIDScheme,
		ResponseType:              params.ResponseType,
		ResponseMode:              params.ResponseMode,
		ResponseURI:               params.ResponseURI,
		RedirectURI:               params.RedirectURI,
		Scope:                     params.Scope,
		Nonce:                     params.Nonce,
		State:                     params.State,
		RequestURI:                params.RequestURI,
		Request:                   params.Request,
		PresentationDefinition:    params.PresentationDefinition,
		PresentationDefinitionURI: params.PresentationDefinitionURI,
		DCQLQuery:                 params.DCQLQuery,
		ClientMetadata:            params.ClientMetadata,
		Protocol:                  p.id,
		Timestamp:                 p.now().UTC().Format(time.RFC3339),
	}

	if !conformantClientID(params.ClientID, params.ClientIDScheme) {
		advisory := fmt.Sprintf("client_id %q is neither x509_san_dns nor an https URL", params.ClientID)
		logger.Warn("non-standard client_id scheme",
			logfields.WithProtocol(p.id), logfields.WithAdvisory(advisory))
		req.Advisories = append(req.Advisories, advisory)
	}

	return req, nil
}

// checkRequirementSource enforces that exactly one parameter carries the
// credential requirements.
func checkRequirementSource(params *authorizationParams) error {
	var set []string

	if params.RequestURI != "" {
		set = append(set, "request_uri")
	}
	if params.Request != "" {
		set = append(set, "request")
	}
	if params.PresentationDefinition != nil {
		set = append(set, "presentation_definition")
	}
	if params.PresentationDefinitionURI != "" {
		set = append(set, "presentation_definition_uri")
	}
	if params.DCQLQuery != nil {
		set = append(set, "dcql_query")
	}

	switch len(set) {
	case 1:
		return nil
	case 0:
		return protocol.NewValidationError(
			"one of request_uri, request, presentation_definition, presentation_definition_uri, dcql_query is required")
	default:
		return protocol.NewValidationError("only one credential requirement parameter allowed, got %s",
			strings.Join(set, ", "))
	}
}

func conformantClientID(clientID, scheme string) bool {
	if strings.HasPrefix(clientID, ClientIDSchemeX509SanDNS+":") || scheme == ClientIDSchemeX509SanDNS {
		return true
	}

	u, err := url.Parse(clientID)
	return err == nil && u.Scheme == "https" && u.Host != ""
}

func requestFields(data interface{}) (map[string]interface{}, error) {
	switch v := data.(type) {
	case map[string]interface{}:
		fields := make(map[string]interface{}, len(v))
		for k, val := range v {
			fields[k] = val
		}
		return fields, nil
	case url.Values:
		return valuesFields(v), nil
	case string:
		return stringFields(v)
	case []byte:
		return stringFields(string(v))
	case *protocol.AuthorizationRequest:
		if v == nil {
			return nil, protocol.NewValidationError("request data is nil")
		}
		return structFields(v)
	case nil:
		return nil, protocol.NewValidationError("request data is nil")
	default:
		return nil, protocol.NewValidationError("request data must be an object or a URL-encoded string, got %T", data)
	}
}

func stringFields(s string) (map[string]interface{}, error) {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "{") {
		var fields map[string]interface{}
		if err := json.Unmarshal([]byte(s), &fields); err != nil {
			return nil, protocol.NewValidationError("request data is not a JSON object: %v", err)
		}
		return fields, nil
	}

	query := strings.TrimPrefix(s, "?")
	if u, err := url.Parse(s); err == nil && u.Scheme != "" {
		query = u.RawQuery
	}

	values, err := url.ParseQuery(query)
	if err != nil {
		return nil, protocol.NewValidationError("request data is not URL-encoded: %v", err)
	}
	return valuesFields(values), nil
}

func valuesFields(values url.Values) map[string]interface{} {
	fields := make(map[string]interface{}, len(values))
	for k := range values {
		fields[k] = values.Get(k)
	}
	return fields
}

func structFields(req *protocol.AuthorizationRequest) (map[string]interface{}, error) {
	b, err := json.Marshal(req)
	if err != nil {
		return nil, protocol.NewValidationError("encode request: %v", err)
	}

	var fields map[string]interface{}
	if err := json.Unmarshal(b, &fields); err != nil {
		return nil, protocol.NewValidationError("decode request: %v", err)
	}
	return fields, nil
}

// decodeJSONFields replaces JSON text in the JSON-valued fields with the
// decoded value.
func decodeJSONFields(fields map[string]interface{}) error {
	for _, name := range jsonFields {
		s, ok := fields[name].(string)
		if !ok {
			continue
		}
		if strings.TrimSpace(s) == "" {
			delete(fields, name)
			continue
		}

		var v interface{}
		if err := json.Unmarshal([]byte(s), &v); err != nil {
			return protocol.NewValidationError("%s is not valid JSON: %v", name, err)
		}
		fields[name] = v
	}
	return nil
}
