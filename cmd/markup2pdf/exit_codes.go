package main

import (
	"errors"
	"os"

	markup2pdf "github.com/alnah/go-markup2pdf"
	"github.com/alnah/go-markup2pdf/internal/config"
)

// Exit codes for the markup2pdf CLI.
// Follows Unix conventions: 0=success, 1=general, 2=usage, and custom codes < 126.
const (
	ExitSuccess = 0 // Successful command
	ExitGeneral = 1 // General/unexpected error
	ExitUsage   = 2 // Invalid flags, config, or request
	ExitIO      = 3 // File not found, permission denied, write failure
	ExitEngine  = 4 // Browser or legacy renderer errors
)

// exitCodeFor returns the appropriate exit code for an error.
// It uses errors.Is to check wrapped errors, so callers must use fmt.Errorf("%w", err).
func exitCodeFor(err error) int {
	if err == nil {
		return ExitSuccess
	}

	// Engine errors (exit 4)
	if errors.Is(err, markup2pdf.ErrEngineLaunch) ||
		errors.Is(err, markup2pdf.ErrRenderFailure) {
		return ExitEngine
	}

	// Usage/config/validation errors (exit 2)
	if errors.Is(err, ErrUsage) ||
		errors.Is(err, config.ErrConfigNotFound) ||
		errors.Is(err, config.ErrEmptyConfigName) ||
		errors.Is(err, config.ErrConfigParse) ||
		errors.Is(err, config.ErrFieldTooLong) ||
		errors.Is(err, config.ErrInvalidValue) ||
		errors.Is(err, markup2pdf.ErrValidation) ||
		errors.Is(err, markup2pdf.ErrInvalidContent) ||
		errors.Is(err, markup2pdf.ErrElementNotFound) {
		return ExitUsage
	}

	// I/O errors (exit 3)
	if errors.Is(err, os.ErrNotExist) ||
		errors.Is(err, os.ErrPermission) ||
		errors.Is(err, ErrReadInput) ||
		errors.Is(err, ErrNoInput) ||
		errors.Is(err, markup2pdf.ErrIOFailure) {
		return ExitIO
	}

	return ExitGeneral
}
