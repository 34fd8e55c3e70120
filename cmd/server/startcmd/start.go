// Package startcmd implements the start command of the mediator.
package startcmd

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
	"github.com/trustbloc/logutil-go/pkg/log"

	"github.com/kokukuma/dc-mediator/cmd/common"
	"github.com/kokukuma/dc-mediator/exchange"
	"github.com/kokukuma/dc-mediator/internal/bus"
	"github.com/kokukuma/dc-mediator/internal/logfields"
	"github.com/kokukuma/dc-mediator/internal/server"
	"github.com/kokukuma/dc-mediator/jar"
	"github.com/kokukuma/dc-mediator/openid4vp"
	"github.com/kokukuma/dc-mediator/protocol"
	"github.com/kokukuma/dc-mediator/relay"
	"github.com/kokukuma/dc-mediator/shim"
	"github.com/kokukuma/dc-mediator/verifier"
	"github.com/kokukuma/dc-mediator/wallet"
)

var logger = log.New("dc-mediator")

type httpServer interface {
	ListenAndServe(host string, router http.Handler) error
}

// HTTPServer represents an actual HTTP server implementation.
type HTTPServer struct{}

// ListenAndServe starts the server using the standard Go HTTP server implementation.
func (s *HTTPServer) ListenAndServe(host string, router http.Handler) error {
	return http.ListenAndServe(host, router) //nolint:gosec
}

// GetStartCmd returns the Cobra start command.
func GetStartCmd(srv httpServer) *cobra.Command {
	startCmd := createStartCmd(srv)

	createFlags(startCmd)

	return startCmd
}

func createStartCmd(srv httpServer) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start dc-mediator",
		Long:  "Start the digital credential mediator HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			parameters, err := getMediatorParameters(cmd)
			if err != nil {
				return err
			}

			return startMediator(parameters, srv)
		},
	}
}

func startMediator(params *mediatorParameters, srv httpServer) error {
	if params.logLevel != "" {
		common.SetDefaultLogLevel(logger, params.logLevel)
	}

	wallets, err := wallet.NewFileRegistry(params.walletsFile)
	if err != nil {
		return fmt.Errorf("load wallets: %w", err)
	}

	var resolverOpts []jar.Opt
	if params.requireVerified {
		resolverOpts = append(resolverOpts, jar.WithRequireVerified())
	}

	correlatorOpts := []exchange.Opt{
		exchange.WithResponseTimeout(params.responseTimeout),
		exchange.WithSelectionTimeout(params.selectionTimeout),
		exchange.WithFetchTimeout(params.fetchTimeout),
		exchange.WithDisabled(params.disabled),
	}

	serverOpts := []server.Opt{server.WithAllowedOrigins(params.allowedOrigins...)}

	if params.trustAnchorsDir != "" {
		certManager, err := server.NewCertManager(params.trustAnchorsDir)
		if err != nil {
			return fmt.Errorf("load trust anchors: %w", err)
		}

		x5c := verifier.NewX5C(nil, verifier.WithRootSource(certManager.CertPool))

		correlatorOpts = append(correlatorOpts, exchange.WithVerifier(x5c.Verifier()))
		serverOpts = append(serverOpts, server.WithCertManager(certManager))
	}

	plugins := protocol.NewRegistry(openid4vp.New(openid4vp.WithResolver(jar.NewResolver(resolverOpts...))))

	eventBus := bus.New()
	defer eventBus.Close() //nolint:errcheck

	selections := server.NewSelections()

	correlator, err := exchange.New(plugins, wallets, selections, eventBus, correlatorOpts...)
	if err != nil {
		return fmt.Errorf("start exchange correlator: %w", err)
	}
	defer correlator.Stop()

	contextRelay, err := relay.New(eventBus)
	if err != nil {
		return fmt.Errorf("start context relay: %w", err)
	}
	defer contextRelay.Stop()

	interceptionShim, err := shim.New(eventBus)
	if err != nil {
		return fmt.Errorf("start interception shim: %w", err)
	}
	defer interceptionShim.Stop()

	router := server.NewServer(interceptionShim, correlator, selections, serverOpts...).Router()

	logger.Info("starting dc-mediator", logfields.WithURL(params.hostURL))

	return srv.ListenAndServe(params.hostURL, router)
}
