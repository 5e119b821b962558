// Package notify writes the line-delimited notification stream consumed by
// the front end. Nothing but notification lines may reach this writer.
package notify

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"sync"

	evdev "github.com/holoplot/go-evdev"

	"github.com/filipyuen/Q9CP/pkg/keymap"
)

// Format selects the line shape.
type Format int

const (
	// KeyName writes KEY:<identifier>, e.g. KEY:KEY_KP1.
	KeyName Format = iota
	// KeyCode writes KEY_INTERCEPTED:<code>, e.g. KEY_INTERCEPTED:79.
	KeyCode
)

// Stream writes one flushed line per intercepted key-down.
type Stream struct {
	format Format

	mu    sync.Mutex
	w     *bufio.Writer
	lines int
}

// New wraps w.
func New(w io.Writer, format Format) *Stream {
	return &Stream{format: format, w: bufio.NewWriter(w)}
}

// Line renders the notification for code without writing it.
func (s *Stream) Line(code evdev.EvCode) string {
	if s.format == KeyCode {
		return "KEY_INTERCEPTED:" + strconv.Itoa(int(code))
	}
	return "KEY:" + keymap.Name(code)
}

// Intercepted writes the notification for code and flushes it so the consumer
// sees it immediately.
func (s *Stream) Intercepted(code evdev.EvCode) error {
	line := s.Line(code)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("write notification: %w", err)
	}
	if err := s.w.Flush(); err != nil {
		return fmt.Errorf("flush notification: %w", err)
	}
	s.lines++
	return nil
}

// Lines reports how many notifications were written.
func (s *Stream) Lines() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lines
}
