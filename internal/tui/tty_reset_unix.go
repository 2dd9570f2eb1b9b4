//go:build !windows

package tui

import (
	"os"
	"os/exec"
)

// bestEffortResetTTY puts the terminal back into a sane state after the
// console exits, in case bubbletea could not restore it itself.
func bestEffortResetTTY() {
	// Only meaningful when stdin is a terminal.
	fi, err := os.Stdin.Stat()
	if err != nil {
		return
	}
	if (fi.Mode() & os.ModeCharDevice) == 0 {
		return
	}

	// Target /dev/tty directly so a redirected stdin doesn't matter; any
	// failure here is ignored.
	_ = exec.Command("sh", "-lc", "stty sane < /dev/tty >/dev/null 2>&1 || true").Run()
}
