package protocol

// CredentialRequest is one provider entry of a page's credential call. It is
// never modified after capture.
type CredentialRequest struct {
	Protocol string      `json:"protocol"`
	Data     interface{} `json:"data"`
	Origin   string      `json:"origin"`
}

// AuthorizationRequest is the canonical form a plugin produces from raw request
// data. Exactly one of RequestURI, Request, PresentationDefinition,
// PresentationDefinitionURI and DCQLQuery is set once validated; with RequestURI
// or Request the remaining fields are filled in by request object resolution.
type AuthorizationRequest struct {
	ClientID                  string      `json:"client_id"`
	ClientIDScheme            string      `json:"client_id_scheme,omitempty"`
	ResponseType              string      `json:"response_type,omitempty"`
	ResponseMode              string      `json:"response_mode,omitempty"`
	ResponseURI               string      `json:"response_uri,omitempty"`
	RedirectURI               string      `json:"redirect_uri,omitempty"`
	Scope                     string      `json:"scope,omitempty"`
	Nonce                     string      `json:"nonce,omitempty"`
	State                     string      `json:"state,omitempty"`
	RequestURI                string      `json:"request_uri,omitempty"`
	Request                   string      `json:"request,omitempty"`
	PresentationDefinition    interface{} `json:"presentation_definition,omitempty"`
	PresentationDefinitionURI string      `json:"presentation_definition_uri,omitempty"`
	DCQLQuery                 interface{} `json:"dcql_query,omitempty"`
	ClientMetadata            interface{} `json:"client_metadata,omitempty"`

	Protocol  string `json:"protocol"`
	Timestamp string `json:"timestamp"`

	// Set only on requests produced by request object resolution.
	JARHeader            map[string]interface{} `json:"_jarHeader,omitempty"`
	JARSignatureVerified *bool                  `json:"_jarSignatureVerified,omitempty"`

	Advisories []string `json:"advisories,omitempty"`
}

// ByReference reports whether the request is carried by a request object.
func (r *AuthorizationRequest) ByReference() bool {
	return r.RequestURI != "" || r.Request != ""
}

// WalletInvocation is a request formatted for one wallet.
type WalletInvocation struct {
	Protocol         string            `json:"protocol"`
	WalletURL        string            `json:"walletUrl"`
	AuthorizationURL string            `json:"authorizationUrl"`
	RequestData      map[string]string `json:"requestData"`
}

// WalletResponse is a validated response returned by a wallet.
type WalletResponse struct {
	Protocol               string                  `json:"protocol"`
	VPToken                interface{}             `json:"vp_token,omitempty"`
	Response               string                  `json:"response,omitempty"`
	IDToken                string                  `json:"id_token,omitempty"`
	State                  string                  `json:"state,omitempty"`
	PresentationSubmission *PresentationSubmission `json:"presentation_submission,omitempty"`
	Advisories             []string                `json:"advisories,omitempty"`
}

// Encrypted reports whether the response is a direct_post.jwt envelope.
func (r *WalletResponse) Encrypted() bool {
	return r.Response != ""
}

// https://identity.foundation/presentation-exchange/spec/v2.0.0/#presentation-submission
type PresentationSubmission struct {
	ID            string       `json:"id"`
	DefinitionID  string       `json:"definition_id"`
	DescriptorMap []Descriptor `json:"descriptor_map"`
}

type Descriptor struct {
	ID         string      `json:"id"`
	Format     string      `json:"format"`
	Path       string      `json:"path"`
	PathNested *Descriptor `json:"path_nested,omitempty"`
}
