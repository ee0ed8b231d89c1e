// Package main is the entry point for the weather-places service.
package main

import (
	"os"

	"github.com/i474232898/weather-places/cmd/weather-places/app"
)

func main() {
	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
