// Package towncrier holds the telemetry hooks and the health buffer, a
// small append-only file other hooks use to leave messages for the next
// health report.
package towncrier

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// BufferFile is the health buffer location relative to a project.
const BufferFile = ".forge/health_buffer"

// MaxBufferLines caps the buffer; messages beyond it are dropped until the
// next flush.
const MaxBufferLines = 200

var timeNow = time.Now

// HealthBuffer appends timestamped lines to a project's health buffer.
type HealthBuffer struct {
	path string
	mu   sync.Mutex
}

// NewHealthBuffer returns the buffer of the project rooted at projectDir.
func NewHealthBuffer(projectDir string) *HealthBuffer {
	return &HealthBuffer{path: filepath.Join(projectDir, BufferFile)}
}

// Path returns the buffer file path.
func (b *HealthBuffer) Path() string { return b.path }

// Append adds "[YYYY-MM-DDTHH:MM:SSZ] msg". Blank messages are ignored, and
// so is anything past MaxBufferLines.
func (b *HealthBuffer) Append(msg string) error {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return nil
	}
	// One entry per line.
	msg = strings.ReplaceAll(msg, "\n", " ")

	b.mu.Lock()
	defer b.mu.Unlock()

	lines, err := b.lines()
	if err != nil {
		return err
	}
	if len(lines) >= MaxBufferLines {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(b.path), 0o755); err != nil {
		return fmt.Errorf("towncrier: create buffer directory: %w", err)
	}
	f, err := os.OpenFile(b.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("towncrier: open buffer: %w", err)
	}
	defer f.Close()

	stamp := timeNow().UTC().Format("2006-01-02T15:04:05Z")
	if _, err := fmt.Fprintf(f, "[%s] %s\n", stamp, msg); err != nil {
		return fmt.Errorf("towncrier: append buffer: %w", err)
	}
	return nil
}

// Lines returns the buffered entries without consuming them.
func (b *HealthBuffer) Lines() ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lines()
}

// Flush returns the buffered entries and empties the buffer.
func (b *HealthBuffer) Flush() ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	lines, err := b.lines()
	if err != nil || len(lines) == 0 {
		return nil, err
	}
	if err := os.Truncate(b.path, 0); err != nil {
		return nil, fmt.Errorf("towncrier: truncate buffer: %w", err)
	}
	return lines, nil
}

func (b *HealthBuffer) lines() ([]string, error) {
	f, err := os.Open(b.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("towncrier: open buffer: %w", err)
	}
	defer f.Close()

	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			out = append(out, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("towncrier: read buffer: %w", err)
	}
	return out, nil
}
