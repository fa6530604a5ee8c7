package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/harunnryd/bodhi/pkg/session"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		var rejected *session.HandshakeRejectedError
		if errors.As(err, &rejected) {
			fmt.Fprintln(os.Stderr, rejected.Status.Description())
		}
		os.Exit(1)
	}
}
