// Package tray provides a system tray menu for starting runs by hand.
package tray

import (
	"fmt"
	"sync"

	"github.com/getlantern/systray"

	"github.com/ayusman/pilah/internal/store"
)

// Tray is the system tray application.
type Tray struct {
	onRunNow func()
	onStatus func()
	onQuit   func()
	mu       sync.RWMutex

	menuRunNow  *systray.MenuItem
	menuLastRun *systray.MenuItem
	lastRun     string
}

// New creates a new Tray.
func New() *Tray {
	return &Tray{lastRun: describeRun(nil)}
}

// OnRunNow sets the callback for the "Run now" item.
func (t *Tray) OnRunNow(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onRunNow = fn
}

// OnStatus sets the callback for the "Open status page" item. The item is
// only shown when a callback is set before Run.
func (t *Tray) OnStatus(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onStatus = fn
}

// OnQuit sets the callback for the "Quit" item.
func (t *Tray) OnQuit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onQuit = fn
}

// Run starts the system tray application.
// This function blocks until systray.Quit() is called.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

// Quit closes the tray from outside the menu.
func (t *Tray) Quit() {
	systray.Quit()
}

func (t *Tray) onReady() {
	systray.SetTitle("Pilah")
	systray.SetTooltip("Pilah bottle sorter")

	t.mu.Lock()
	t.menuRunNow = systray.AddMenuItem("Run now", "Look for a bottle and signal the sorter")
	systray.AddSeparator()

	t.menuLastRun = systray.AddMenuItem(t.lastRun, "Outcome of the last run")
	t.menuLastRun.Disable()
	systray.AddSeparator()

	var statusClicked chan struct{}
	if t.onStatus != nil {
		statusClicked = systray.AddMenuItem("Open status page", "Open the status server in a browser").ClickedCh
		systray.AddSeparator()
	}
	t.mu.Unlock()

	menuQuit := systray.AddMenuItem("Quit", "Quit Pilah")

	go func() {
		for {
			select {
			case <-t.menuRunNow.ClickedCh:
				t.handleRunNow()
			case <-statusClicked:
				t.handleStatus()
			case <-menuQuit.ClickedCh:
				t.handleQuit()
				return
			}
		}
	}()
}

func (t *Tray) onExit() {}

func (t *Tray) handleRunNow() {
	t.mu.RLock()
	callback := t.onRunNow
	t.mu.RUnlock()

	// Call the callback outside the lock to prevent deadlocks
	if callback != nil {
		callback()
	}
}

func (t *Tray) handleStatus() {
	t.mu.RLock()
	callback := t.onStatus
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

func (t *Tray) handleQuit() {
	t.mu.RLock()
	callback := t.onQuit
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}

	systray.Quit()
}

// SetLastRun shows the outcome of run in the menu.
func (t *Tray) SetLastRun(run *store.Run) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.lastRun = describeRun(run)
	if t.menuLastRun != nil {
		t.menuLastRun.SetTitle(t.lastRun)
	}
}

// LastRun returns the text of the last-run menu item.
func (t *Tray) LastRun() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastRun
}

func describeRun(run *store.Run) string {
	if run == nil {
		return "Last: none"
	}

	switch run.Status {
	case store.RunAckTimeout:
		return fmt.Sprintf("Last: %s, no reply from board", run.Command)
	case store.RunFailed:
		return "Last: failed"
	}

	text := "Last: " + run.Command
	if run.HasPoints {
		text += fmt.Sprintf(" (+%d)", run.Points)
	}
	return text + " at " + run.FinishedAt.Format("15:04:05")
}
