package openid4vp

import (
	"context"

	"github.com/kokukuma/dc-mediator/internal/logfields"
	"github.com/kokukuma/dc-mediator/jar"
	"github.com/kokukuma/dc-mediator/protocol"
)

// HandleRequestURI resolves the request object of a by-reference request and
// returns the authorization request it carries.
func (p *Plugin) HandleRequestURI(ctx context.Context, req *protocol.AuthorizationRequest, verify protocol.Verifier) (*protocol.AuthorizationRequest, error) {
	if req == nil || !req.ByReference() {
		return nil, protocol.NewValidationError("request has neither request_uri nor request")
	}

	var obj *jar.RequestObject
	var err error

	if req.RequestURI != "" {
		obj, err = p.resolver.Resolve(ctx, req.RequestURI, verify)
	} else {
		obj, err = p.resolver.Decode(ctx, req.Request, verify)
	}
	if err != nil {
		return nil, err
	}

	claims := obj.Claims()

	// RFC 9101 5.2: the client_id outside the request object must match.
	if cid, ok := claims["client_id"].(string); ok && cid != "" {
		if req.ClientID != "" && cid != req.ClientID {
			return nil, protocol.NewValidationError("client_id %q does not match request object client_id %q",
				req.ClientID, cid)
		}
	} else {
		claims["client_id"] = req.ClientID
	}

	resolved, err := p.normalize(claims)
	if err != nil {
		return nil, err
	}

	if resolved.ByReference() {
		return nil, protocol.NewValidationError("request object must not contain request_uri or request")
	}

	verified := obj.SignatureVerified
	resolved.JARHeader = obj.Header
	resolved.JARSignatureVerified = &verified

	if !verified {
		advisory := "request object signature not verified"
		logger.Warn("unverified request object",
			logfields.WithProtocol(p.id), logfields.WithAdvisory(advisory))
		resolved.Advisories = append(resolved.Advisories, advisory)
	}

	return resolved, nil
}
