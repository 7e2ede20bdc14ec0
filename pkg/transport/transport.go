// Package transport provides the line-oriented channel between Kibitzer
// and an engine process: synchronous newline-terminated writes in, a
// background-drained FIFO stream of decoded lines out.
package transport

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

// ErrChannelClosed indicates a write against a channel whose process side
// has gone away.
var ErrChannelClosed = errors.New("transport channel is closed")

// lineBuffer bounds how many unread lines may accumulate before the
// reader goroutine blocks. Engines in deep searches emit info lines far
// faster than callers drain them.
const lineBuffer = 256

// Channel couples an engine's stdin and stdout into a single line
// transport. Lines arrive on Lines() in exactly the order the process
// emitted them; the stream ends when the process closes its output.
type Channel struct {
	w          io.Writer
	lines      chan string
	readerDone chan struct{}

	mu     sync.Mutex
	closed bool
}

// New starts the background reader over r and returns the channel.
// The caller keeps ownership of the underlying pipes; closing them is
// what terminates the reader.
func New(w io.Writer, r io.Reader) *Channel {
	c := &Channel{
		w:          w,
		lines:      make(chan string, lineBuffer),
		readerDone: make(chan struct{}),
	}
	go c.readLoop(r)
	return c
}

// Send writes one command line, appending the protocol's line terminator.
func (c *Channel) Send(line string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrChannelClosed
	}
	if _, err := io.WriteString(c.w, line+"\n"); err != nil {
		c.closed = true
		return fmt.Errorf("transport: write %q: %w", line, err)
	}
	return nil
}

// Lines returns the FIFO stream of decoded output lines. The channel is
// closed when the process output reaches end-of-stream.
func (c *Channel) Lines() <-chan string {
	return c.lines
}

// ReaderDone is closed once the background reader has consumed the
// output stream to its end. The process owner must not reap the child
// before this fires, or buffered final output is lost.
func (c *Channel) ReaderDone() <-chan struct{} {
	return c.readerDone
}

// readLoop drains the process output one line at a time. A trailing
// fragment without a newline is discarded: the protocol requires newline
// termination, so an unterminated fragment means the process died mid-line.
func (c *Channel) readLoop(r io.Reader) {
	defer close(c.readerDone)
	defer close(c.lines)

	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			c.mu.Lock()
			c.closed = true
			c.mu.Unlock()
			return
		}
		c.lines <- strings.TrimRight(line, " \t\r\n")
	}
}
