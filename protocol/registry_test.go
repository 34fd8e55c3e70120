package protocol

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubPlugin struct {
	id string
}

func (p *stubPlugin) ID() string { return p.id }

func (p *stubPlugin) PrepareRequest(interface{}) (*AuthorizationRequest, error) {
	return &AuthorizationRequest{Protocol: p.id}, nil
}

func (p *stubPlugin) ValidateResponse(interface{}) (*WalletResponse, error) {
	return &WalletResponse{Protocol: p.id}, nil
}

func (p *stubPlugin) FormatForWallet(*AuthorizationRequest, string) (*WalletInvocation, error) {
	return &WalletInvocation{Protocol: p.id}, nil
}

func (p *stubPlugin) HandleRequestURI(context.Context, *AuthorizationRequest, Verifier) (*AuthorizationRequest, error) {
	return nil, nil
}

func TestRegistryResolve(t *testing.T) {
	reg := NewRegistry(&stubPlugin{id: "openid4vp"}, &stubPlugin{id: "openid4vp-v1-signed"})

	tests := []struct {
		name     string
		protocol string
		wantErr  bool
	}{
		{name: "exact match", protocol: "openid4vp"},
		{name: "version variant is a distinct id", protocol: "openid4vp-v1-signed"},
		{name: "no prefix matching", protocol: "openid4vp-v1", wantErr: true},
		{name: "case sensitive", protocol: "OpenID4VP", wantErr: true},
		{name: "empty", protocol: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := reg.Resolve(tt.protocol)
			if tt.wantErr {
				require.Error(t, err)
				require.True(t, IsUnsupportedProtocolError(err))
				require.Nil(t, p)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.protocol, p.ID())
		})
	}
}

func TestRegistryProtocols(t *testing.T) {
	reg := NewRegistry()
	require.Empty(t, reg.Protocols())

	reg.Register(&stubPlugin{id: "preview"})
	reg.Register(&stubPlugin{id: "openid4vp"})
	reg.Register(&stubPlugin{id: "openid4vp"})

	require.Equal(t, []string{"openid4vp", "preview"}, reg.Protocols())
}
