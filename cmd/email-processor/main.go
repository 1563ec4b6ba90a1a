// Package main provides the entry point for the email-processor application.
package main

import (
	"os"

	"github.com/kodjooo/email-payment-processor/cmd/root"
)

func main() {
	root.Init()
	if err := root.Cmd.Execute(); err != nil {
		root.Log.WithError(err).Error("Command failed")
		os.Exit(1)
	}
}
