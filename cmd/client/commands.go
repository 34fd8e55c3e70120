package main

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/davecgh/go-spew/spew"
	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"
	cmdutils "github.com/trustbloc/cmdutil-go/pkg/utils/cmd"

	"github.com/kokukuma/dc-mediator/cmd/common"
	"github.com/kokukuma/dc-mediator/exchange"
	"github.com/kokukuma/dc-mediator/internal/cryptoroot"
	"github.com/kokukuma/dc-mediator/jar"
	"github.com/kokukuma/dc-mediator/openid4vp"
	"github.com/kokukuma/dc-mediator/pkg/pki"
	"github.com/kokukuma/dc-mediator/protocol"
	"github.com/kokukuma/dc-mediator/verifier"
)

const (
	requestFlagName  = "request"
	requestFlagUsage = "Authorization request as a JSON object, a query string or a URL. Prefix with @ to read it from a file." +
		" Alternatively, this can be set with the following environment variable: " + requestEnvKey
	requestEnvKey = "DCM_REQUEST"

	walletURLFlagName  = "wallet-url"
	walletURLFlagUsage = "Base URL of the wallet to format the request for." +
		" Alternatively, this can be set with the following environment variable: " + walletURLEnvKey
	walletURLEnvKey = "DCM_WALLET_URL"

	qrFlagName  = "qr"
	qrFlagUsage = "Write the authorization URL as a PNG QR code to this path."

	requestURIFlagName  = "request-uri"
	requestURIFlagUsage = "URL of the request object to resolve."

	clientIDFlagName  = "client-id"
	clientIDFlagUsage = "client_id sent alongside the request_uri."

	trustAnchorsDirFlagName  = "trust-anchors-dir"
	trustAnchorsDirFlagUsage = "Directory of PEM trust anchors used to verify the request object." +
		" Alternatively, this can be set with the following environment variable: " + trustAnchorsDirEnvKey
	trustAnchorsDirEnvKey = "DCM_TRUST_ANCHORS_DIR"

	requireVerifiedFlagName  = "require-verified"
	requireVerifiedFlagUsage = "Fail when the request object signature cannot be verified."

	keysDirFlagName  = "keys-dir"
	keysDirFlagUsage = "Directory holding the signing root (rootKey.pem, rootCert.pem). Created when missing." +
		" Alternatively, this can be set with the following environment variable: " + keysDirEnvKey
	keysDirEnvKey = "DCM_KEYS_DIR"

	dnsNameFlagName  = "dns-name"
	dnsNameFlagUsage = "DNS name bound to the signing certificate."

	keyFlagName  = "key"
	keyFlagUsage = "PEM private key to sign with instead of a generated chain. Requires --x5c."

	x5cFlagName  = "x5c"
	x5cFlagUsage = "Base64 DER certificates placed in the x5c header, leaf first."

	debugFlagName  = "debug"
	debugFlagUsage = "Dump intermediate values."
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "dc-mediator-client",
		Short: "Developer tools for OpenID4VP authorization requests",
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			if level := cmdutils.GetUserSetOptionalVarFromString(cmd, common.LogLevelFlagName,
				common.LogLevelEnvKey); level != "" {
				common.SetDefaultLogLevel(logger, level)
			}
		},
		Run: func(cmd *cobra.Command, args []string) {
			cmd.HelpFunc()(cmd, args)
		},
	}

	rootCmd.PersistentFlags().StringP(common.LogLevelFlagName, common.LogLevelFlagShorthand, "",
		common.LogLevelPrefixFlagUsage)
	rootCmd.PersistentFlags().Bool(debugFlagName, false, debugFlagUsage)

	rootCmd.AddCommand(
		newPrepareCmd(),
		newFormatCmd(),
		newResolveCmd(),
		newSignRequestCmd(),
	)

	return rootCmd
}

func newPrepareCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prepare",
		Short: "Validate and normalize an authorization request",
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := prepareRequest(cmd)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), req)
		},
	}

	cmd.Flags().String(requestFlagName, "", requestFlagUsage)

	return cmd
}

func newFormatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "format",
		Short: "Format an authorization request for a wallet",
		RunE: func(cmd *cobra.Command, _ []string) error {
			walletURL, err := cmdutils.GetUserSetVarFromString(cmd, walletURLFlagName, walletURLEnvKey, false)
			if err != nil {
				return err
			}

			req, err := prepareRequest(cmd)
			if err != nil {
				return err
			}

			inv, err := openid4vp.New().FormatForWallet(req, walletURL)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), inv.AuthorizationURL)

			if path, _ := cmd.Flags().GetString(qrFlagName); path != "" {
				if err := qrcode.WriteFile(inv.AuthorizationURL, qrcode.Medium, 256, path); err != nil {
					return fmt.Errorf("write QR code: %w", err)
				}
			}

			return nil
		},
	}

	cmd.Flags().String(requestFlagName, "", requestFlagUsage)
	cmd.Flags().String(walletURLFlagName, "", walletURLFlagUsage)
	cmd.Flags().String(qrFlagName, "", qrFlagUsage)

	return cmd
}

func newResolveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Fetch, verify and normalize a request object",
		RunE: func(cmd *cobra.Command, _ []string) error {
			requestURI, err := cmdutils.GetUserSetVarFromString(cmd, requestURIFlagName, "", false)
			if err != nil {
				return err
			}

			clientID, _ := cmd.Flags().GetString(clientIDFlagName)
			requireVerified, _ := cmd.Flags().GetBool(requireVerifiedFlagName)

			var opts []jar.Opt
			if requireVerified {
				opts = append(opts, jar.WithRequireVerified())
			}

			var verify protocol.Verifier

			dir := cmdutils.GetUserSetOptionalVarFromString(cmd, trustAnchorsDirFlagName, trustAnchorsDirEnvKey)
			if dir != "" {
				roots, err := pki.LoadCertPool(dir)
				if err != nil {
					return err
				}
				verify = verifier.NewX5C(roots).Verifier()
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), exchange.DefaultFetchTimeout)
			defer cancel()

			plugin := openid4vp.New(openid4vp.WithResolver(jar.NewResolver(opts...)))

			resolved, err := plugin.HandleRequestURI(ctx, &protocol.AuthorizationRequest{
				ClientID:   clientID,
				RequestURI: requestURI,
			}, verify)
			if err != nil {
				return err
			}

			debug(cmd, resolved.JARHeader)

			return writeJSON(cmd.OutOrStdout(), resolved)
		},
	}

	cmd.Flags().String(requestURIFlagName, "", requestURIFlagUsage)
	cmd.Flags().String(clientIDFlagName, "", clientIDFlagUsage)
	cmd.Flags().String(trustAnchorsDirFlagName, "", trustAnchorsDirFlagUsage)
	cmd.Flags().Bool(requireVerifiedFlagName, false, requireVerifiedFlagUsage)

	return cmd
}

func newSignRequestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sign-request",
		Short: "Sign an authorization request as a request object",
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := prepareRequest(cmd)
			if err != nil {
				return err
			}

			if req.ByReference() {
				return fmt.Errorf("request is already carried by a request object")
			}

			key, x5c, err := signingKey(cmd)
			if err != nil {
				return err
			}

			token, err := openid4vp.NewRequestObject(req).Sign(key, x5c)
			if err != nil {
				return fmt.Errorf("sign request object: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), token)

			return nil
		},
	}

	cmd.Flags().String(requestFlagName, "", requestFlagUsage)
	cmd.Flags().String(keysDirFlagName, "", keysDirFlagUsage)
	cmd.Flags().String(dnsNameFlagName, "", dnsNameFlagUsage)
	cmd.Flags().String(keyFlagName, "", keyFlagUsage)
	cmd.Flags().StringSlice(x5cFlagName, []string{}, x5cFlagUsage)

	return cmd
}

func prepareRequest(cmd *cobra.Command) (*protocol.AuthorizationRequest, error) {
	raw, err := cmdutils.GetUserSetVarFromString(cmd, requestFlagName, requestEnvKey, false)
	if err != nil {
		return nil, err
	}

	if strings.HasPrefix(raw, "@") {
		b, err := os.ReadFile(strings.TrimPrefix(raw, "@"))
		if err != nil {
			return nil, fmt.Errorf("read request: %w", err)
		}
		raw = string(b)
	}

	req, err := openid4vp.New().PrepareRequest(raw)
	if err != nil {
		return nil, err
	}

	for _, advisory := range req.Advisories {
		fmt.Fprintln(cmd.ErrOrStderr(), "advisory:", advisory)
	}

	debug(cmd, req)

	return req, nil
}

// signingKey returns either the key given by --key with the --x5c chain, or a
// fresh end-entity key issued under the root kept in --keys-dir.
func signingKey(cmd *cobra.Command) (*ecdsa.PrivateKey, []string, error) {
	if keyPath, _ := cmd.Flags().GetString(keyFlagName); keyPath != "" {
		x5c, _ := cmd.Flags().GetStringSlice(x5cFlagName)
		if len(x5c) == 0 {
			return nil, nil, fmt.Errorf("--%s requires --%s", keyFlagName, x5cFlagName)
		}

		if _, err := pki.ParseX5C(x5c); err != nil {
			return nil, nil, err
		}

		key, err := pki.LoadPrivateKey(keyPath)
		if err != nil {
			return nil, nil, err
		}

		return key, x5c, nil
	}

	dir, err := cmdutils.GetUserSetVarFromString(cmd, keysDirFlagName, keysDirEnvKey, false)
	if err != nil {
		return nil, nil, err
	}

	dnsName, _ := cmd.Flags().GetString(dnsNameFlagName)
	if dnsName == "" {
		return nil, nil, fmt.Errorf("--%s is required with --%s", dnsNameFlagName, keysDirFlagName)
	}

	chain, err := cryptoroot.LoadChain(dir, dnsName)
	if err != nil {
		return nil, nil, fmt.Errorf("load signing chain: %w", err)
	}

	debug(cmd, chain.Leaf.Subject, chain.Leaf.DNSNames)

	return chain.Key, chain.X5C, nil
}

func debug(cmd *cobra.Command, v ...interface{}) {
	if on, _ := cmd.Flags().GetBool(debugFlagName); on {
		spew.Fdump(cmd.ErrOrStderr(), v...)
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
