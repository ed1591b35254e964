// Command upgradectl drives template upgrades of the API catalog.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/zqdou/kraken-ent/internal/domain"
)

func main() {
	err := rootCmd.Execute()
	if current != nil {
		_ = current.Close()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "upgradectl: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps domain errors to process exit codes.
func exitCode(err error) int {
	switch {
	case errors.Is(err, domain.ErrAdmissionDenied):
		return 3
	case errors.Is(err, domain.ErrNotFound):
		return 4
	case errors.Is(err, domain.ErrInvalidArgument):
		return 2
	default:
		return 1
	}
}
