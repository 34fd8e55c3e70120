package openid4vp

import (
	"crypto/ecdsa"
	"encoding/base64"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/kokukuma/dc-mediator/internal/cryptoroot"
	"github.com/kokukuma/dc-mediator/jar"
	"github.com/kokukuma/dc-mediator/pkg/hash"
	"github.com/kokukuma/dc-mediator/pkg/pki"
	"github.com/kokukuma/dc-mediator/protocol"
)

// RequestObject holds the claims of a signed authorization request.
type RequestObject struct {
	ClientID               string      `json:"client_id"`
	ClientIDScheme         string      `json:"client_id_scheme,omitempty"`
	ResponseType           string      `json:"response_type,omitempty"`
	ResponseMode           string      `json:"response_mode,omitempty"`
	ResponseURI            string      `json:"response_uri,omitempty"`
	Scope                  string      `json:"scope,omitempty"`
	Nonce                  string      `json:"nonce,omitempty"`
	State                  string      `json:"state,omitempty"`
	PresentationDefinition interface{} `json:"presentation_definition,omitempty"`
	DCQLQuery              interface{} `json:"dcql_query,omitempty"`
	ClientMetadata         interface{} `json:"client_metadata,omitempty"`
	jwt.RegisteredClaims
}

// NewRequestObject copies the inline parameters of req into request object claims.
func NewRequestObject(req *protocol.AuthorizationRequest) *RequestObject {
	return &RequestObject{
		ClientID:               req.ClientID,
		ClientIDScheme:         req.ClientIDScheme,
		ResponseType:           req.ResponseType,
		ResponseMode:           req.ResponseMode,
		ResponseURI:            req.ResponseURI,
		Scope:                  req.Scope,
		Nonce:                  req.Nonce,
		State:                  req.State,
		PresentationDefinition: req.PresentationDefinition,
		DCQLQuery:              req.DCQLQuery,
		ClientMetadata:         req.ClientMetadata,
	}
}

func (c *RequestObject) Sign(sigKey *ecdsa.PrivateKey, certChain []string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodES256, c)
	token.Header["x5c"] = certChain
	token.Header["typ"] = jar.RequestObjectType
	token.Header["kid"] = base64.RawURLEncoding.EncodeToString(cryptoroot.CalcKID(&sigKey.PublicKey, "sha256"))

	if len(certChain) > 0 {
		leaf, err := pki.ParseCertificate(certChain[0])
		if err != nil {
			return "", fmt.Errorf("failed to parse x5c leaf: %w", err)
		}
		digest, err := hash.Digest(leaf.Raw, "SHA-256")
		if err != nil {
			return "", err
		}
		token.Header["x5t#S256"] = base64.RawURLEncoding.EncodeToString(digest)
	}

	return token.SignedString(sigKey)
}
