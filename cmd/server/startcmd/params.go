package startcmd

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	cmdutils "github.com/trustbloc/cmdutil-go/pkg/utils/cmd"

	"github.com/kokukuma/dc-mediator/cmd/common"
	"github.com/kokukuma/dc-mediator/exchange"
)

const (
	hostURLFlagName      = "host-url"
	hostURLFlagShorthand = "u"
	hostURLFlagUsage     = "URL to run the mediator instance on. Format: HostName:Port." +
		" Alternatively, this can be set with the following environment variable: " + hostURLEnvKey
	hostURLEnvKey = "DCM_HOST_URL"

	walletsFileFlagName  = "wallets-file"
	walletsFileFlagUsage = "Path to a JSON file listing the registered wallets." +
		" Alternatively, this can be set with the following environment variable: " + walletsFileEnvKey
	walletsFileEnvKey = "DCM_WALLETS_FILE"

	responseTimeoutFlagName  = "response-timeout"
	responseTimeoutFlagUsage = "How long a chosen wallet has to respond, e.g. 5m. Defaults to 5m." +
		" Alternatively, this can be set with the following environment variable: " + responseTimeoutEnvKey
	responseTimeoutEnvKey = "DCM_RESPONSE_TIMEOUT"

	selectionTimeoutFlagName  = "selection-timeout"
	selectionTimeoutFlagUsage = "How long the user has to pick a wallet before the exchange times out. Defaults to 10m." +
		" Alternatively, this can be set with the following environment variable: " + selectionTimeoutEnvKey
	selectionTimeoutEnvKey = "DCM_SELECTION_TIMEOUT"

	fetchTimeoutFlagName  = "fetch-timeout"
	fetchTimeoutFlagUsage = "Timeout for fetching request objects by reference. Defaults to 10s." +
		" Alternatively, this can be set with the following environment variable: " + fetchTimeoutEnvKey
	fetchTimeoutEnvKey = "DCM_FETCH_TIMEOUT"

	disabledFlagName  = "disabled"
	disabledFlagUsage = "Hand every credential call back to native handling." +
		" Alternatively, this can be set with the following environment variable: " + disabledEnvKey
	disabledEnvKey = "DCM_DISABLED"

	trustAnchorsDirFlagName  = "trust-anchors-dir"
	trustAnchorsDirFlagUsage = "Directory of PEM trust anchors. When set, request object signatures are" +
		" verified against the x5c chain in their header." +
		" Alternatively, this can be set with the following environment variable: " + trustAnchorsDirEnvKey
	trustAnchorsDirEnvKey = "DCM_TRUST_ANCHORS_DIR"

	requireVerifiedFlagName  = "require-verified-requests"
	requireVerifiedFlagUsage = "Reject request objects whose signature could not be verified." +
		" Alternatively, this can be set with the following environment variable: " + requireVerifiedEnvKey
	requireVerifiedEnvKey = "DCM_REQUIRE_VERIFIED_REQUESTS"

	allowedOriginsFlagName  = "allowed-origins"
	allowedOriginsFlagUsage = "Comma-separated list of origins allowed by CORS. Defaults to *." +
		" Alternatively, this can be set with the following environment variable: " + allowedOriginsEnvKey
	allowedOriginsEnvKey = "DCM_ALLOWED_ORIGINS"

	defaultSelectionTimeout = 10 * time.Minute
)

type mediatorParameters struct {
	hostURL          string
	walletsFile      string
	responseTimeout  time.Duration
	selectionTimeout time.Duration
	fetchTimeout     time.Duration
	disabled         bool
	trustAnchorsDir  string
	requireVerified  bool
	allowedOrigins   []string
	logLevel         string
}

func getMediatorParameters(cmd *cobra.Command) (*mediatorParameters, error) {
	hostURL, err := cmdutils.GetUserSetVarFromString(cmd, hostURLFlagName, hostURLEnvKey, false)
	if err != nil {
		return nil, err
	}

	walletsFile, err := cmdutils.GetUserSetVarFromString(cmd, walletsFileFlagName, walletsFileEnvKey, false)
	if err != nil {
		return nil, err
	}

	responseTimeout, err := getDuration(cmd, responseTimeoutFlagName, responseTimeoutEnvKey,
		exchange.DefaultResponseTimeout)
	if err != nil {
		return nil, err
	}

	selectionTimeout, err := getDuration(cmd, selectionTimeoutFlagName, selectionTimeoutEnvKey,
		defaultSelectionTimeout)
	if err != nil {
		return nil, err
	}

	fetchTimeout, err := getDuration(cmd, fetchTimeoutFlagName, fetchTimeoutEnvKey, exchange.DefaultFetchTimeout)
	if err != nil {
		return nil, err
	}

	disabled, err := getBool(cmd, disabledFlagName, disabledEnvKey)
	if err != nil {
		return nil, err
	}

	requireVerified, err := getBool(cmd, requireVerifiedFlagName, requireVerifiedEnvKey)
	if err != nil {
		return nil, err
	}

	allowedOrigins := cmdutils.GetUserSetOptionalCSVVar(cmd, allowedOriginsFlagName, allowedOriginsEnvKey)
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}

	return &mediatorParameters{
		hostURL:          hostURL,
		walletsFile:      walletsFile,
		responseTimeout:  responseTimeout,
		selectionTimeout: selectionTimeout,
		fetchTimeout:     fetchTimeout,
		disabled:         disabled,
		trustAnchorsDir:  cmdutils.GetUserSetOptionalVarFromString(cmd, trustAnchorsDirFlagName, trustAnchorsDirEnvKey),
		requireVerified:  requireVerified,
		allowedOrigins:   allowedOrigins,
		logLevel:         cmdutils.GetUserSetOptionalVarFromString(cmd, common.LogLevelFlagName, common.LogLevelEnvKey),
	}, nil
}

func getDuration(cmd *cobra.Command, flagName, envKey string, defaultDuration time.Duration) (time.Duration, error) {
	value := cmdutils.GetUserSetOptionalVarFromString(cmd, flagName, envKey)
	if value == "" {
		return defaultDuration, nil
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s [%s]: %w", flagName, value, err)
	}

	if d <= 0 {
		return 0, fmt.Errorf("invalid value for %s [%s]: must be positive", flagName, value)
	}

	return d, nil
}

func getBool(cmd *cobra.Command, flagName, envKey string) (bool, error) {
	value := cmdutils.GetUserSetOptionalVarFromString(cmd, flagName, envKey)
	if value == "" {
		return false, nil
	}

	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid value for %s [%s]: %w", flagName, value, err)
	}

	return b, nil
}

func createFlags(startCmd *cobra.Command) {
	startCmd.Flags().StringP(hostURLFlagName, hostURLFlagShorthand, "", hostURLFlagUsage)
	startCmd.Flags().String(walletsFileFlagName, "", walletsFileFlagUsage)
	startCmd.Flags().String(responseTimeoutFlagName, "", responseTimeoutFlagUsage)
	startCmd.Flags().String(selectionTimeoutFlagName, "", selectionTimeoutFlagUsage)
	startCmd.Flags().String(fetchTimeoutFlagName, "", fetchTimeoutFlagUsage)
	startCmd.Flags().String(disabledFlagName, "", disabledFlagUsage)
	startCmd.Flags().String(trustAnchorsDirFlagName, "", trustAnchorsDirFlagUsage)
	startCmd.Flags().String(requireVerifiedFlagName, "", requireVerifiedFlagUsage)
	startCmd.Flags().StringSlice(allowedOriginsFlagName, []string{}, allowedOriginsFlagUsage)
	startCmd.Flags().StringP(common.LogLevelFlagName, common.LogLevelFlagShorthand, "",
		common.LogLevelPrefixFlagUsage)
}
