package stream

import "sync"

// Command is a request sent from the consumer to the running worker.
type Command string

// CommandCancel asks the worker to stop at its next checkpoint.
const CommandCancel Command = "cancel"

// Control is a single-slot command latch. The first command sent wins and
// stays readable; later sends are ignored. The worker polls it at its own
// checkpoints, so nothing is interrupted preemptively.
type Control struct {
	once sync.Once
	mu   sync.Mutex
	cmd  Command
	done chan struct{}
}

// NewControl creates an empty latch.
func NewControl() *Control {
	return &Control{done: make(chan struct{})}
}

// Send stores cmd if the slot is empty and reports whether it was stored.
func (c *Control) Send(cmd Command) bool {
	stored := false
	c.once.Do(func() {
		c.mu.Lock()
		c.cmd = cmd
		c.mu.Unlock()
		close(c.done)
		stored = true
	})
	return stored
}

// Cancel is Send(CommandCancel).
func (c *Control) Cancel() {
	c.Send(CommandCancel)
}

// Top returns the pending command without clearing it.
func (c *Control) Top() (Command, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cmd, c.cmd != ""
}

// Cancelled reports whether a cancel command is pending.
func (c *Control) Cancelled() bool {
	cmd, ok := c.Top()
	return ok && cmd == CommandCancel
}

// Done is closed once any command has been sent.
func (c *Control) Done() <-chan struct{} {
	return c.done
}
