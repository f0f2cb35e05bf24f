package browser

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

// xvfbReady bounds the wait for the display socket.
const xvfbReady = 3 * time.Second

// startXvfb launches the virtual display headful tabs render on and waits
// until its socket exists.
func (e *Engine) startXvfb() error {
	if e.xvfb != nil {
		return nil
	}

	display := e.cfg.XvfbDisplay
	cmd := exec.Command("Xvfb", display, "-screen", "0", "1920x1080x24", "-ac", "-nolisten", "tcp")
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start xvfb: %w", err)
	}
	e.xvfb = cmd

	if err := waitSocket(displaySocket(display), xvfbReady); err != nil {
		// Chrome may still connect; a missing socket only means we could not see it.
		e.cfg.Logger.Warn("browser: xvfb socket not seen", "display", display, "error", err)
	}
	e.cfg.Logger.Info("browser: xvfb started", "display", display, "pid", cmd.Process.Pid)
	return nil
}

// stopXvfb asks Xvfb to exit, killing it if it lingers.
func (e *Engine) stopXvfb() {
	if e.xvfb == nil {
		return
	}
	cmd := e.xvfb
	e.xvfb = nil
	if cmd.Process == nil {
		return
	}

	done := make(chan struct{})
	go func() {
		cmd.Wait()
		close(done)
	}()
	cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		cmd.Process.Kill()
		<-done
	}
	e.cfg.Logger.Info("browser: xvfb stopped")
}

// displaySocket maps an X display such as ":99" or ":99.0" to its unix
// socket path.
func displaySocket(display string) string {
	n := strings.TrimPrefix(display, ":")
	if i := strings.IndexByte(n, '.'); i >= 0 {
		n = n[:i]
	}
	return filepath.Join("/tmp/.X11-unix", "X"+n)
}

func waitSocket(path string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if _, err := os.Stat(path); err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("no socket at %s after %v", path, timeout)
		}
		time.Sleep(50 * time.Millisecond)
	}
}
