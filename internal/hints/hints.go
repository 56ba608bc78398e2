// Package hints provides actionable error hints for common failure scenarios.
// Hints are formatted consistently as "\n  hint: <text>" for appending to error messages.
package hints

import (
	"os"
	"strings"

	"github.com/alnah/go-markup2pdf/internal/fileutil"
)

// IsInContainer detects if running inside a Docker container or similar.
// Checks for /.dockerenv file which Docker creates automatically.
var IsInContainer = func() bool {
	return fileutil.FileExists("/.dockerenv")
}

// InCI reports whether a known CI environment variable is set.
func InCI() bool {
	return os.Getenv("CI") != "" ||
		os.Getenv("GITHUB_ACTIONS") != "" ||
		os.Getenv("GITLAB_CI") != "" ||
		os.Getenv("JENKINS_URL") != ""
}

// ForBrowserConnect returns hints for browser launch and connection errors.
// Detects CI/Docker environment and suggests relevant environment variables.
func ForBrowserConnect() string {
	var hints []string

	// Sandboxing must be off when Chrome runs as root inside containers
	if (InCI() || IsInContainer()) && os.Getenv("M2P_NO_SANDBOX") != "1" {
		hints = append(hints, "set M2P_NO_SANDBOX=1 for Docker/CI")
	}

	if os.Getenv("ROD_BROWSER_BIN") == "" {
		hints = append(hints, "set ROD_BROWSER_BIN to use a pre-installed Chrome")
	}

	return formatHints(hints)
}

// ForLegacyUnavailable returns hints when the fallback renderer cannot start.
func ForLegacyUnavailable() string {
	if os.Getenv("M2P_LEGACY_PDF_BIN") != "" || os.Getenv("M2P_LEGACY_IMAGE_BIN") != "" {
		return format("check M2P_LEGACY_PDF_BIN and M2P_LEGACY_IMAGE_BIN point to executables")
	}
	return format("install wkhtmltopdf or set M2P_LEGACY_PDF_BIN / M2P_LEGACY_IMAGE_BIN")
}

// ForElementNotFound returns a hint for selectors that match nothing.
func ForElementNotFound(selector string) string {
	if selector == "" {
		return ""
	}
	return format("no element matches " + selector + "; selectors are evaluated after scripts run")
}

// ForTimeout returns a hint about increasing timeout for slow operations.
func ForTimeout() string {
	return format("for heavy documents, use --timeout flag or M2P_TIMEOUT")
}

// ForConfigNotFound returns hints for config file not found errors.
// Suggests --config flag and creating a config in ~/.config/markup2pdf/.
func ForConfigNotFound(searchedPaths []string) string {
	hint := "use --config /path/to/file.yaml"

	for _, p := range searchedPaths {
		if strings.Contains(p, ".config/markup2pdf") {
			hint += " or create " + p
			break
		}
	}

	return format(hint)
}

// ForOutputDirectory returns hints for output directory creation errors.
func ForOutputDirectory() string {
	return format("check parent directory exists and is writable")
}

// format creates a single hint string with consistent formatting.
func format(hint string) string {
	if hint == "" {
		return ""
	}
	return "\n  hint: " + hint
}

// formatHints joins multiple hints with consistent formatting.
func formatHints(hints []string) string {
	if len(hints) == 0 {
		return ""
	}
	return format(strings.Join(hints, "; "))
}
