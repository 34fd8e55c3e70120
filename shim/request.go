package shim

import (
	"github.com/mitchellh/mapstructure"

	"github.com/kokukuma/dc-mediator/protocol"
)

// credentialOptions is the digital member of a credential call's options.
// Current callers send requests; older ones send providers, whose request
// member carries the data.
type credentialOptions struct {
	Digital *struct {
		Requests []struct {
			Protocol string      `json:"protocol"`
			Data     interface{} `json:"data"`
		} `json:"requests"`
		Providers []struct {
			Protocol string      `json:"protocol"`
			Request  interface{} `json:"request"`
		} `json:"providers"`
	} `json:"digital"`
}

// IsDigitalCredentialRequest reports whether options carry at least one
// digital credential request.
func IsDigitalCredentialRequest(options map[string]interface{}) bool {
	requests, err := ParseRequests("", options)
	return err == nil && len(requests) > 0
}

// ParseRequests extracts the credential requests of a credential call.
func ParseRequests(origin string, options map[string]interface{}) ([]protocol.CredentialRequest, error) {
	var opts credentialOptions

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName: "json",
		Result:  &opts,
	})
	if err != nil {
		return nil, err
	}

	if err := decoder.Decode(options); err != nil {
		return nil, protocol.NewValidationError("malformed credential options: %v", err)
	}

	if opts.Digital == nil {
		return nil, ErrNotDigitalCredentialRequest
	}

	var requests []protocol.CredentialRequest

	for _, r := range opts.Digital.Requests {
		if r.Protocol == "" {
			continue
		}
		requests = append(requests, protocol.CredentialRequest{Protocol: r.Protocol, Data: r.Data, Origin: origin})
	}

	for _, p := range opts.Digital.Providers {
		if p.Protocol == "" {
			continue
		}
		requests = append(requests, protocol.CredentialRequest{Protocol: p.Protocol, Data: p.Request, Origin: origin})
	}

	if len(requests) == 0 {
		return nil, ErrNotDigitalCredentialRequest
	}

	return requests, nil
}
