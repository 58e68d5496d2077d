// ABOUTME: Durable agent-side state: poll cursor and session token files
// ABOUTME: Survives restarts so an agent reclaims its identity and position

package client

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// checkpoint persists the small bits of agent state that must survive a
// restart: the poll cursor and the registration session token.
type checkpoint struct {
	dir     string
	agentID string
}

func newCheckpoint(dir, agentID string) (*checkpoint, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}
	return &checkpoint{dir: dir, agentID: agentID}, nil
}

func (c *checkpoint) cursorPath() string {
	return filepath.Join(c.dir, c.agentID+".cursor")
}

func (c *checkpoint) sessionPath() string {
	return filepath.Join(c.dir, c.agentID+".session")
}

// loadCursor returns the last delivered sequence number, or zero when no
// checkpoint exists yet.
func (c *checkpoint) loadCursor() int64 {
	raw, err := os.ReadFile(c.cursorPath())
	if err != nil {
		return 0
	}
	v, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}

func (c *checkpoint) saveCursor(seq int64) error {
	return writeFileAtomic(c.cursorPath(), []byte(strconv.FormatInt(seq, 10)))
}

// loadSession returns the stored session token, or empty when absent.
func (c *checkpoint) loadSession() string {
	raw, err := os.ReadFile(c.sessionPath())
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(raw))
}

func (c *checkpoint) saveSession(token string) error {
	return writeFileAtomic(c.sessionPath(), []byte(token))
}

func (c *checkpoint) clearSession() {
	_ = os.Remove(c.sessionPath())
}

// writeFileAtomic writes via a temp file and rename so a crash mid-write
// never leaves a truncated checkpoint behind.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
