package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	markup2pdf "github.com/alnah/go-markup2pdf"
	"github.com/alnah/go-markup2pdf/internal/hints"
)

// Sentinel errors for CLI operations.
var (
	ErrUsage     = errors.New("invalid usage")
	ErrNoInput   = errors.New("no input specified")
	ErrReadInput = errors.New("failed to read input")
)

// stdinArg selects standard input as the conversion source.
const stdinArg = "-"

// conversionJob is one resolved convert invocation.
type conversionJob struct {
	inputPath  string
	outputPath string
	request    markup2pdf.Request
}

// runConvert converts a single HTML or SVG document.
func runConvert(ctx context.Context, args []string, env *Environment) error {
	flags, positional, err := parseConvertFlags(args, env.Stderr)
	if err != nil {
		return err
	}

	job, err := resolveJob(flags, positional)
	if err != nil {
		return err
	}

	cfg, err := loadSettings(flags.common.config, env.Stderr)
	if err != nil {
		return err
	}
	mergeCommonFlags(&flags.common, cfg)
	if err := mergeRenderFlags(flags.fs, &flags.render, cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	content, err := readInput(job.inputPath, env.Stdin)
	if err != nil {
		return err
	}
	job.request.Content = content

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	conv := env.NewConverter(converterOptions(cfg.Render, log)...)
	defer func() { _ = conv.Close() }()

	res, err := conv.Convert(ctx, job.request, job.outputPath)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("converting %s: %w%s", displayName(job.inputPath), err, hints.ForTimeout())
		}
		return fmt.Errorf("converting %s: %w", displayName(job.inputPath), err)
	}

	if flags.common.quiet {
		return nil
	}
	if flags.common.verbose {
		fallback := ""
		if res.FellBack {
			fallback = ", fallback"
		}
		fmt.Fprintf(env.Stdout, "%s -> %s (%s, %d bytes, %v%s)\n",
			displayName(job.inputPath), res.OutputPath, res.Engine, res.Size,
			res.Duration.Round(time.Millisecond), fallback)
	} else {
		fmt.Fprintf(env.Stdout, "Created %s\n", res.OutputPath)
	}
	return nil
}

// resolveJob turns flags and positional arguments into a request.
// Content type defaults from the input extension, output format from the
// output extension, and the output path from the input name.
func resolveJob(flags *convertFlags, positional []string) (*conversionJob, error) {
	switch {
	case len(positional) == 0:
		return nil, fmt.Errorf("%w: usage: markup2pdf convert [flags] <input|-> [output]", ErrNoInput)
	case len(positional) > 2:
		return nil, fmt.Errorf("%w: too many arguments", ErrUsage)
	}

	job := &conversionJob{inputPath: positional[0]}
	if len(positional) == 2 {
		job.outputPath = positional[1]
	}

	contentType := strings.ToLower(flags.contentType)
	if contentType == "" {
		contentType = string(markup2pdf.ContentHTML)
		if strings.EqualFold(filepath.Ext(job.inputPath), ".svg") {
			contentType = string(markup2pdf.ContentSVG)
		}
	}

	format := strings.ToLower(flags.format)
	if format == "" {
		format = string(markup2pdf.FormatPDF)
		if strings.EqualFold(filepath.Ext(job.outputPath), ".png") {
			format = string(markup2pdf.FormatPNG)
		}
	}

	if job.outputPath == "" {
		if job.inputPath == stdinArg {
			return nil, fmt.Errorf("%w: an output path is required when reading stdin", ErrUsage)
		}
		job.outputPath = strings.TrimSuffix(job.inputPath, filepath.Ext(job.inputPath)) + "." + format
	}

	job.request = markup2pdf.Request{
		Type:     markup2pdf.ContentType(contentType),
		Format:   markup2pdf.OutputFormat(format),
		Selector: strings.TrimSpace(flags.selector),
	}
	return job, nil
}

// readInput reads the document from path, or from stdin when path is "-".
func readInput(path string, stdin io.Reader) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == stdinArg {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path) // #nosec G304 -- user-provided input path
	}
	if err != nil {
		return "", fmt.Errorf("%w %s: %w", ErrReadInput, displayName(path), err)
	}
	return string(data), nil
}

func displayName(path string) string {
	if path == stdinArg {
		return "stdin"
	}
	return path
}
