// Package openid4vp implements the OpenID for Verifiable Presentations
// protocol plugin.
//
// https://openid.net/specs/openid-4-verifiable-presentations-1_0.html
package openid4vp

import (
	"time"

	"github.com/trustbloc/logutil-go/pkg/log"

	"github.com/kokukuma/dc-mediator/jar"
	"github.com/kokukuma/dc-mediator/protocol"
)

var logger = log.New("openid4vp")

const (
	ProtocolID = "openid4vp"

	ResponseModeDirectPost    = "direct_post"
	ResponseModeDirectPostJWT = "direct_post.jwt"

	ClientIDSchemeX509SanDNS = "x509_san_dns"
)

var responseModes = []string{ResponseModeDirectPost, ResponseModeDirectPostJWT}

var _ protocol.Plugin = (*Plugin)(nil)

type Plugin struct {
	id       string
	resolver *jar.Resolver
	now      func() time.Time
}

type Opt func(p *Plugin)

// WithID registers the plugin under a protocol identifier other than
// "openid4vp", e.g. a version variant.
func WithID(id string) Opt {
	return func(p *Plugin) {
		p.id = id
	}
}

func WithResolver(r *jar.Resolver) Opt {
	return func(p *Plugin) {
		p.resolver = r
	}
}

func withClock(now func() time.Time) Opt {
	return func(p *Plugin) {
		p.now = now
	}
}

func New(opts ...Opt) *Plugin {
	p := &Plugin{
		id:  ProtocolID,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.resolver == nil {
		p.resolver = jar.NewResolver()
	}
	return p
}

func (p *Plugin) ID() string {
	return p.id
}
