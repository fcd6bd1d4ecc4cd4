//go:build !windows

package doctor

import (
	"os"
	"os/exec"
)

// resetTerminal restores cooked mode in case an interrupted picker left the
// tty raw.
func resetTerminal() {
	cmd := exec.Command("stty", "sane")
	cmd.Stdin = os.Stdin
	cmd.Run()
}
