package main

import (
	"context"
	"io"
	"os"

	markup2pdf "github.com/alnah/go-markup2pdf"
)

// Converter is the subset of *markup2pdf.Converter used by the convert command.
type Converter interface {
	Convert(ctx context.Context, req markup2pdf.Request, outputPath string) (*markup2pdf.Result, error)
	Close() error
}

// Compile-time interface implementation check.
var _ Converter = (*markup2pdf.Converter)(nil)

// Environment holds injectable dependencies for testability.
type Environment struct {
	Stdin        io.Reader
	Stdout       io.Writer
	Stderr       io.Writer
	NewConverter func(opts ...markup2pdf.Option) Converter
}

// DefaultEnv returns the production environment.
func DefaultEnv() *Environment {
	return &Environment{
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		NewConverter: func(opts ...markup2pdf.Option) Converter {
			return markup2pdf.NewConverter(opts...)
		},
	}
}
