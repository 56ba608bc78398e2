package main

import (
	"fmt"
	"io"
)

// printUsage prints the main usage message.
func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: markup2pdf <command> [flags] [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve      Run the HTTP conversion API")
	fmt.Fprintln(w, "  convert    Convert an HTML or SVG file to PDF or PNG")
	fmt.Fprintln(w, "  config     Print the effective configuration")
	fmt.Fprintln(w, "  doctor     Check the browser and fallback renderer setup")
	fmt.Fprintln(w, "  version    Show version information")
	fmt.Fprintln(w, "  help       Show help for a command")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Run 'markup2pdf help <command>' for details on a specific command.")
}

func printCommonUsage(w io.Writer) {
	fmt.Fprintln(w, "Common:")
	fmt.Fprintln(w, "  -c, --config <name>       Config file name or path (env: M2P_CONFIG)")
	fmt.Fprintln(w, "      --log-level <s>       Log level: debug, info, warn, error")
	fmt.Fprintln(w, "  -q, --quiet               Only show errors")
	fmt.Fprintln(w, "  -v, --verbose             Show debug logs and timing")
}

func printRenderUsage(w io.Writer) {
	fmt.Fprintln(w, "Rendering:")
	fmt.Fprintln(w, "  -t, --timeout <d>         Per-engine timeout, e.g. 30s, 2m (env: M2P_TIMEOUT)")
	fmt.Fprintln(w, "      --browser-bin <path>  Chrome/Chromium executable (env: ROD_BROWSER_BIN)")
	fmt.Fprintln(w, "      --no-sandbox          Disable the Chrome sandbox (default true)")
	fmt.Fprintln(w, "      --no-legacy           Disable the wkhtmltopdf fallback")
	fmt.Fprintln(w, "  -j, --concurrency <n>     Simultaneous renders (0 = auto)")
}

// printServeUsage prints usage for the serve command.
func printServeUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: markup2pdf serve [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Run the HTTP conversion API until interrupted.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Server:")
	fmt.Fprintln(w, "  -a, --addr <addr>         Listen address (env: M2P_ADDR, PORT)")
	fmt.Fprintln(w, "      --mode <s>            development or production (env: M2P_MODE, NODE_ENV)")
	fmt.Fprintln(w, "  -o, --output-dir <dir>    Produced files, served under /output/")
	fmt.Fprintln(w, "      --upload-dir <dir>    Temporary multipart uploads")
	fmt.Fprintln(w, "      --base-url <url>      Public URL prefix of returned links")
	fmt.Fprintln(w)
	printRenderUsage(w)
	fmt.Fprintln(w)
	printCommonUsage(w)
}

// printConvertUsage prints usage for the convert command.
func printConvertUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: markup2pdf convert [flags] <input|-> [output]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Convert an HTML or SVG document. Use - to read from stdin.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Arguments:")
	fmt.Fprintln(w, "  input     HTML or SVG file, or - for stdin")
	fmt.Fprintln(w, "  output    Destination file (default: input name with the format extension)")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Document:")
	fmt.Fprintln(w, "      --type <s>            html or svg (default: from input extension)")
	fmt.Fprintln(w, "  -f, --format <s>          pdf or png (default: from output extension, else pdf)")
	fmt.Fprintln(w, "  -s, --selector <css>      Capture only the first matching element")
	fmt.Fprintln(w)
	printRenderUsage(w)
	fmt.Fprintln(w)
	printCommonUsage(w)
}

func printConfigUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: markup2pdf config [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Print the configuration after applying the file, environment and flags.")
	fmt.Fprintln(w, "Secrets are redacted.")
	fmt.Fprintln(w)
	printCommonUsage(w)
}

func printDoctorUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: markup2pdf doctor [--json] [--config <name>]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Check Chrome, the wkhtmltopdf fallback and the environment.")
}

// runHelp prints help for a specific command.
func runHelp(args []string, env *Environment) {
	if len(args) == 0 {
		printUsage(env.Stdout)
		return
	}

	switch args[0] {
	case "serve":
		printServeUsage(env.Stdout)
	case "convert":
		printConvertUsage(env.Stdout)
	case "config":
		printConfigUsage(env.Stdout)
	case "doctor":
		printDoctorUsage(env.Stdout)
	case "version":
		fmt.Fprintln(env.Stdout, "Usage: markup2pdf version")
		fmt.Fprintln(env.Stdout)
		fmt.Fprintln(env.Stdout, "Show version information.")
	case "help":
		fmt.Fprintln(env.Stdout, "Usage: markup2pdf help [command]")
		fmt.Fprintln(env.Stdout)
		fmt.Fprintln(env.Stdout, "Show help for a command.")
	default:
		fmt.Fprintf(env.Stderr, "Unknown command: %s\n", args[0])
		printUsage(env.Stderr)
	}
}
