package browser

import (
	"os/exec"
	"path/filepath"

	"github.com/jmylchreest/carwatch/internal/logger"
)

// chromeCandidates are tried in order: PATH names first, then fixed
// install locations.
var chromeCandidates = []string{
	"google-chrome-stable",
	"google-chrome",
	"chromium",
	"chromium-browser",
	"chrome",
	"/usr/bin/google-chrome-stable",
	"/usr/bin/chromium",
	"/snap/bin/chromium",
	"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
	"/Applications/Chromium.app/Contents/MacOS/Chromium",
	`C:\Program Files\Google\Chrome\Application\chrome.exe`,
}

// FindChromePath returns the first Chrome or Chromium binary found, or ""
// when none is installed.
func FindChromePath() string {
	return findBinary(chromeCandidates, exec.LookPath)
}

func findBinary(candidates []string, lookPath func(string) (string, error)) string {
	for _, name := range candidates {
		path, err := lookPath(name)
		if err != nil {
			continue
		}
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
		logger.Debug("found chrome binary", "name", name, "path", path)
		return path
	}
	logger.Warn("no chrome binary found, browser backend may not start")
	return ""
}
