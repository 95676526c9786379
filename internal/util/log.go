package util

import (
	"fmt"

	"github.com/pterm/pterm"
)

func init() {
	pterm.DefaultLogger.ShowTime = true
	pterm.DefaultLogger.TimeFormat = "15:04:05"
	pterm.DefaultLogger.MaxWidth = 120
}

// Leveled logging backed by pterm. Success is rendered through the prefix
// printer so channel-established and transfer-complete lines stand out from
// the leveled stream.

func LogDebug(format string, args ...interface{}) {
	pterm.DefaultLogger.Debug(fmt.Sprintf(format, args...))
}

func LogInfo(format string, args ...interface{}) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...))
}

func LogSuccess(format string, args ...interface{}) {
	pterm.Success.Printfln(format, args...)
}

func LogWarning(format string, args ...interface{}) {
	pterm.DefaultLogger.Warn(fmt.Sprintf(format, args...))
}

func LogError(format string, args ...interface{}) {
	pterm.DefaultLogger.Error(fmt.Sprintf(format, args...))
}

// EnableDebug lowers the threshold so state transitions and frame accounting
// become visible.
func EnableDebug() {
	pterm.DefaultLogger.Level = pterm.LogLevelDebug
}
