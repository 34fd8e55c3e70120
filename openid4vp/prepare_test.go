package openid4vp

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kokukuma/dc-mediator/protocol"
)

var fixedNow = time.Date(2024, 5, 1, 12, 30, 0, 0, time.FixedZone("JST", 9*60*60))

func newTestPlugin(opts ...Opt) *Plugin {
	return New(append([]Opt{withClock(func() time.Time { return fixedNow })}, opts...)...)
}

func presentationDefinition() map[string]interface{} {
	return map[string]interface{}{
		"id": "mDL-request-demo",
		"input_descriptors": []interface{}{
			map[string]interface{}{
				"id": "org.iso.18013.5.1.mDL",
				"format": map[string]interface{}{
					"mso_mdoc": map[string]interface{}{"alg": []interface{}{"ES256"}},
				},
				"constraints": map[string]interface{}{
					"limit_disclosure": "required",
					"fields": []interface{}{
						map[string]interface{}{
							"path":             []interface{}{"$['org.iso.18013.5.1']['family_name']"},
							"intent_to_retain": false,
						},
					},
				},
			},
		},
	}
}

func dcqlQuery() map[string]interface{} {
	return map[string]interface{}{
		"credentials": []interface{}{
			map[string]interface{}{
				"id":     "mdl",
				"format": "mso_mdoc",
				"meta":   map[string]interface{}{"doctype_value": "org.iso.18013.5.1.mDL"},
			},
		},
	}
}

func TestPrepareRequestPresentationDefinition(t *testing.T) {
	p := newTestPlugin()

	req, err := p.PrepareRequest(map[string]interface{}{
		"client_id":               "https://v.example",
		"presentation_definition": presentationDefinition(),
	})
	require.NoError(t, err)

	require.Equal(t, "https://v.example", req.ClientID)
	require.Equal(t, ProtocolID, req.Protocol)
	require.Equal(t, "2024-05-01T03:30:00Z", req.Timestamp)
	require.Equal(t, presentationDefinition(), req.PresentationDefinition)
	require.Empty(t, req.Advisories)

	_, err = time.Parse(time.RFC3339, req.Timestamp)
	require.NoError(t, err)
}

func TestPrepareRequestInputForms(t *testing.T) {
	p := newTestPlugin()

	query := url.Values{
		"client_id":     {"x509_san_dns:verifier.example"},
		"response_type": {"vp_token"},
		"response_mode": {"direct_post"},
		"response_uri":  {"https://verifier.example/response"},
		"nonce":         {"n-0S6_WzA2Mj"},
		"dcql_query":    {`{"credentials":[{"id":"mdl","format":"mso_mdoc","meta":{"doctype_value":"org.iso.18013.5.1.mDL"}}]}`},
	}

	tests := []struct {
		name string
		data interface{}
	}{
		{name: "query string", data: query.Encode()},
		{name: "query string with leading question mark", data: "?" + query.Encode()},
		{name: "wallet URL", data: "openid4vp://?" + query.Encode()},
		{name: "https URL", data: "https://wallet.example/authorize?" + query.Encode()},
		{name: "url values", data: query},
		{name: "bytes", data: []byte(query.Encode())},
		{name: "JSON string", data: `{"client_id":"x509_san_dns:verifier.example","response_type":"vp_token",` +
			`"response_mode":"direct_post","response_uri":"https://verifier.example/response","nonce":"n-0S6_WzA2Mj",` +
			`"dcql_query":{"credentials":[{"id":"mdl","format":"mso_mdoc","meta":{"doctype_value":"org.iso.18013.5.1.mDL"}}]}}`},
		{name: "structured request", data: &protocol.AuthorizationRequest{
			ClientID:     "x509_san_dns:verifier.example",
			ResponseType: "vp_token",
			ResponseMode: "direct_post",
			ResponseURI:  "https://verifier.example/response",
			Nonce:        "n-0S6_WzA2Mj",
			DCQLQuery:    dcqlQuery(),
			Protocol:     "something-else",
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := p.PrepareRequest(tt.data)
			require.NoError(t, err)

			require.Equal(t, "x509_san_dns:verifier.example", req.ClientID)
			require.Equal(t, "vp_token", req.ResponseType)
			require.Equal(t, ResponseModeDirectPost, req.ResponseMode)
			require.Equal(t, "https://verifier.example/response", req.ResponseURI)
			require.Equal(t, "n-0S6_WzA2Mj", req.Nonce)
			require.Equal(t, dcqlQuery(), req.DCQLQuery)
			require.Equal(t, ProtocolID, req.Protocol)
			require.Empty(t, req.Advisories)
		})
	}
}

func TestPrepareRequestMissingClientID(t *testing.T) {
	p := newTestPlugin()

	for name, data := range map[string]interface{}{
		"map":          map[string]interface{}{"presentation_definition": presentationDefinition()},
		"query string": "response_type=vp_token&request_uri=https%3A%2F%2Fv.example%2Fr",
		"JSON string":  `{"dcql_query":{"credentials":[{"id":"a","format":"mso_mdoc"}]}}`,
		"empty id":     map[string]interface{}{"client_id": "", "request_uri": "https://v.example/r"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := p.PrepareRequest(data)
			require.Error(t, err)
			require.True(t, protocol.IsValidationError(err))
			require.Contains(t, err.Error(), "missing client_id")
		})
	}
}

func TestPrepareRequestResponseMode(t *testing.T) {
	p := newTestPlugin()

	_, err := p.PrepareRequest(map[string]interface{}{
		"client_id":               "https://v.example",
		"response_mode":           "bogus",
		"presentation_definition": map[string]interface{}{},
	})
	require.Error(t, err)
	require.True(t, protocol.IsValidationError(err))
	require.Contains(t, err.Error(), `"bogus"`)
	require.Contains(t, err.Error(), "direct_post")
	require.Contains(t, err.Error(), "direct_post.jwt")

	req, err := p.PrepareRequest(map[string]interface{}{
		"client_id":     "https://v.example",
		"response_mode": ResponseModeDirectPostJWT,
		"dcql_query":    dcqlQuery(),
	})
	require.NoError(t, err)
	require.Equal(t, ResponseModeDirectPostJWT, req.ResponseMode)
}

func TestPrepareRequestInvalid(t *testing.T) {
	p := newTestPlugin()

	tests := []struct {
		name     string
		data     interface{}
		contains string
	}{
		{name: "nil", data: nil, contains: "nil"},
		{name: "number", data: 42, contains: "int"},
		{name: "nil struct", data: (*protocol.AuthorizationRequest)(nil), contains: "nil"},
		{name: "no recognizable fields", data: map[string]interface{}{"foo": "bar"},
			contains: "no recognizable"},
		{name: "empty string", data: "", contains: "no recognizable"},
		{name: "malformed JSON", data: `{"client_id":`, contains: "JSON"},
		{name: "bad escape", data: "client_id=%zz", contains: "URL-encoded"},
		{name: "client_id not a string", data: map[string]interface{}{"client_id": 7.0, "request_uri": "x"},
			contains: "malformed"},
		{name: "no requirement source", data: map[string]interface{}{"client_id": "https://v.example"},
			contains: "one of request_uri"},
		{name: "two requirement sources", data: map[string]interface{}{
			"client_id":               "https://v.example",
			"presentation_definition": presentationDefinition(),
			"dcql_query":              dcqlQuery(),
		}, contains: "presentation_definition, dcql_query"},
		{name: "request_uri with inline query", data: map[string]interface{}{
			"client_id":   "https://v.example",
			"request_uri": "https://v.example/request.jwt",
			"dcql_query":  dcqlQuery(),
		}, contains: "request_uri, dcql_query"},
		{name: "presentation_definition JSON text", data: "client_id=https%3A%2F%2Fv.example&presentation_definition=%7Bnope",
			contains: "presentation_definition is not valid JSON"},
		{name: "presentation_definition without input_descriptors", data: map[string]interface{}{
			"client_id":               "https://v.example",
			"presentation_definition": map[string]interface{}{"id": "pd"},
		}, contains: "invalid presentation_definition"},
		{name: "dcql_query without credentials", data: map[string]interface{}{
			"client_id":  "https://v.example",
			"dcql_query": map[string]interface{}{"credentials": []interface{}{}},
		}, contains: "invalid dcql_query"},
		{name: "dcql credential without format", data: map[string]interface{}{
			"client_id": "https://v.example",
			"dcql_query": map[string]interface{}{"credentials": []interface{}{
				map[string]interface{}{"id": "mdl"},
			}},
		}, contains: "invalid dcql_query"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.PrepareRequest(tt.data)
			require.Error(t, err)
			require.True(t, protocol.IsValidationError(err), err.Error())
			require.Contains(t, err.Error(), tt.contains)
		})
	}
}

func TestPrepareRequestClientIDAdvisory(t *testing.T) {
	p := newTestPlugin()

	tests := []struct {
		name     string
		clientID string
		scheme   string
		advisory bool
	}{
		{name: "https URL", clientID: "https://v.example"},
		{name: "x509_san_dns prefix", clientID: "x509_san_dns:v.example"},
		{name: "x509_san_dns scheme parameter", clientID: "v.example", scheme: "x509_san_dns"},
		{name: "http URL", clientID: "http://v.example", advisory: true},
		{name: "redirect_uri prefix", clientID: "redirect_uri:https://v.example/cb", advisory: true},
		{name: "bare name", clientID: "verifier", advisory: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := map[string]interface{}{
				"client_id":  tt.clientID,
				"dcql_query": dcqlQuery(),
			}
			if tt.scheme != "" {
				data["client_id_scheme"] = tt.scheme
			}

			req, err := p.PrepareRequest(data)
			require.NoError(t, err)
			if tt.advisory {
				require.Len(t, req.Advisories, 1)
				require.Contains(t, req.Advisories[0], tt.clientID)
			} else {
				require.Empty(t, req.Advisories)
			}
		})
	}
}

func TestPrepareRequestDoesNotModifyInput(t *testing.T) {
	p := newTestPlugin()

	data := map[string]interface{}{
		"client_id":               "https://v.example",
		"presentation_definition": `{"id":"pd","input_descriptors":[]}`,
	}

	req, err := p.PrepareRequest(data)
	require.NoError(t, err)
	require.Equal(t, `{"id":"pd","input_descriptors":[]}`, data["presentation_definition"])
	require.Equal(t, map[string]interface{}{"id": "pd", "input_descriptors": []interface{}{}}, req.PresentationDefinition)
}

func TestPluginID(t *testing.T) {
	require.Equal(t, ProtocolID, New().ID())

	p := New(WithID("openid4vp-v1-signed"))
	require.Equal(t, "openid4vp-v1-signed", p.ID())

	req, err := p.PrepareRequest(map[string]interface{}{
		"client_id":   "https://v.example",
		"request_uri": "https://v.example/request.jwt",
	})
	require.NoError(t, err)
	require.Equal(t, "openid4vp-v1-signed", req.Protocol)
	require.True(t, req.ByReference())
}
