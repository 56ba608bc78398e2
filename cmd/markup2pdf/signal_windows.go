//go:build windows

package main

import "os"

// shutdownSignals stop the server and abort in-flight CLI conversions.
// SIGTERM is not delivered on Windows.
var shutdownSignals = []os.Signal{os.Interrupt}
