package main

import (
	"context"
	"fmt"

	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"

	markup2pdf "github.com/alnah/go-markup2pdf"
	"github.com/alnah/go-markup2pdf/internal/server"
)

// runServe starts the HTTP API and blocks until ctx is canceled.
func runServe(ctx context.Context, args []string, env *Environment) error {
	flags, err := parseServeFlags(args, env.Stderr)
	if err != nil {
		return err
	}

	cfg, err := loadSettings(flags.common.config, env.Stderr)
	if err != nil {
		return err
	}
	if err := mergeServeFlags(flags, cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	// GOMAXPROCS must follow the container quota before the converter
	// derives its concurrency from it.
	undo, err := maxprocs.Set(maxprocs.Logger(log.Sugar().Debugf))
	if err != nil {
		log.Warn("setting GOMAXPROCS", zap.Error(err))
	}
	defer undo()

	conv := markup2pdf.NewConverter(converterOptions(cfg.Render, log.Named("render"))...)
	defer func() {
		if err := conv.Close(); err != nil {
			log.Warn("closing converter", zap.Error(err))
		}
	}()

	srv, err := server.New(cfg, conv, log)
	if err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return srv.Run(ctx)
}
