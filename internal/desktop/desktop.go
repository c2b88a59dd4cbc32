// Package desktop shows update messages to the user, either as native
// desktop notifications or on a console.
package desktop

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/breeze-rmm/appupdate/internal/logging"
)

var log = logging.L("desktop")

// Message is one notification.
type Message struct {
	Title string
	Body  string
	// Urgency is a notify-send urgency level; ignored elsewhere.
	Urgency string
}

// Notifier delivers messages. Show returns once the message was delivered,
// or answered for interactive notifiers, and reports whether it was.
type Notifier interface {
	Show(msg Message) bool
}

// System uses the platform notification tool: notify-send on Linux,
// osascript on macOS and a PowerShell toast on Windows.
type System struct {
	AppName string
}

func (s *System) Show(msg Message) bool {
	return showNotificationOS(s.AppName, msg)
}

// Console writes messages to Out. When Interactive, Show waits until a line
// is read from In before returning.
type Console struct {
	Out         io.Writer
	In          io.Reader
	Interactive bool

	mu     sync.Mutex
	reader *bufio.Reader
}

func (c *Console) Show(msg Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	var b strings.Builder
	if msg.Title != "" {
		fmt.Fprintf(&b, "== %s ==\n", msg.Title)
	}
	b.WriteString(msg.Body)
	b.WriteString("\n")
	if c.Interactive {
		b.WriteString("Press Enter to continue...\n")
	}
	if _, err := io.WriteString(c.Out, b.String()); err != nil {
		log.Warn("notification failed", logging.KeyError, err)
		return false
	}

	if !c.Interactive || c.In == nil {
		return true
	}
	if c.reader == nil {
		c.reader = bufio.NewReader(c.In)
	}
	if _, err := c.reader.ReadString('\n'); err != nil && err != io.EOF {
		log.Warn("failed to read acknowledgment", logging.KeyError, err)
		return false
	}
	return true
}

// Fallback tries each notifier in order until one delivers.
type Fallback []Notifier

func (f Fallback) Show(msg Message) bool {
	for _, n := range f {
		if n != nil && n.Show(msg) {
			return true
		}
	}
	return false
}
