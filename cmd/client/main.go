// Package main is a developer CLI for preparing, formatting, signing and
// resolving OpenID4VP authorization requests.
package main

import (
	"os"

	"github.com/trustbloc/logutil-go/pkg/log"
)

var logger = log.New("dc-mediator-client")

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logger.Error("command failed", log.WithError(err))
		os.Exit(1)
	}
}
