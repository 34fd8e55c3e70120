package openid4vp

import (
	"encoding/json"
	"net/url"
	"strings"

	"github.com/kokukuma/dc-mediator/protocol"
)

// FormatForWallet encodes req as query parameters on walletURL. Parameters
// already present on walletURL are kept unless req sets the same name; a
// request carried by a request object replaces them all.
func (p *Plugin) FormatForWallet(req *protocol.AuthorizationRequest, walletURL string) (*protocol.WalletInvocation, error) {
	if req == nil {
		return nil, protocol.NewValidationError("authorization request is nil")
	}

	u, err := url.Parse(walletURL)
	if err != nil || walletURL == "" {
		return nil, protocol.NewValidationError("invalid wallet url %q", walletURL)
	}

	params, err := walletParams(req)
	if err != nil {
		return nil, err
	}

	q := u.Query()
	if req.ByReference() {
		q = url.Values{}
	}
	for k, v := range params {
		q.Set(k, v)
	}

	// Rebuilt by hand so that "openid4vp://" keeps its empty authority.
	base, _, _ := strings.Cut(walletURL, "#")
	base, _, _ = strings.Cut(base, "?")
	authorizationURL := base + "?" + q.Encode()
	if u.Fragment != "" {
		authorizationURL += "#" + u.EscapedFragment()
	}

	id := req.Protocol
	if id == "" {
		id = p.id
	}

	return &protocol.WalletInvocation{
		Protocol:         id,
		WalletURL:        walletURL,
		AuthorizationURL: authorizationURL,
		RequestData:      params,
	}, nil
}

// walletParams flattens req into wallet query parameters. A request object
// replaces every other parameter but client_id.
func walletParams(req *protocol.AuthorizationRequest) (map[string]string, error) {
	params := map[string]string{}

	set := func(name, value string) {
		if value != "" {
			params[name] = value
		}
	}

	set("client_id", req.ClientID)

	switch {
	case req.RequestURI != "":
		set("request_uri", req.RequestURI)
		return params, nil
	case req.Request != "":
		set("request", req.Request)
		return params, nil
	}

	set("client_id_scheme", req.ClientIDScheme)
	set("response_type", req.ResponseType)
	set("response_mode", req.ResponseMode)
	set("response_uri", req.ResponseURI)
	set("redirect_uri", req.RedirectURI)
	set("scope", req.Scope)
	set("nonce", req.Nonce)
	set("state", req.State)
	set("presentation_definition_uri", req.PresentationDefinitionURI)

	for name, v := range map[string]interface{}{
		"presentation_definition": req.PresentationDefinition,
		"dcql_query":              req.DCQLQuery,
		"client_metadata":         req.ClientMetadata,
	} {
		if v == nil {
			continue
		}
		// encoding/json writes map keys in sorted order.
		b, err := json.Marshal(v)
		if err != nil {
			return nil, protocol.NewValidationError("encode %s: %v", name, err)
		}
		params[name] = string(b)
	}

	return params, nil
}
