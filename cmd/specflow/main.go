package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/specflow/specflow/internal/dispatch"
	"github.com/specflow/specflow/internal/orchestrator"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)

		var critical *dispatch.CriticalFailure
		switch {
		case errors.As(err, &critical):
			os.Exit(2)
		case errors.Is(err, orchestrator.ErrGatePending):
			os.Exit(3)
		default:
			os.Exit(1)
		}
	}
}
