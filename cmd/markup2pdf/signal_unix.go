//go:build !windows

package main

import (
	"os"
	"syscall"
)

// shutdownSignals stop the server and abort in-flight CLI conversions.
var shutdownSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}
