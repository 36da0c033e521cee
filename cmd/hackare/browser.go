package main

import (
	"os/exec"
	"runtime"

	"go.uber.org/zap"
)

// openBrowser launches the default browser, best effort. Failure only
// logs; the server keeps running either way.
func openBrowser(url string, log *zap.Logger) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	if err := cmd.Start(); err != nil {
		log.Warn("Could not open browser", zap.String("url", url), zap.Error(err))
	}
}
