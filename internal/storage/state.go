package storage

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/beta0629/stock-trading-system-sub000/internal/domain"
	"github.com/beta0629/stock-trading-system-sub000/internal/infra"
)

// TradingState is the crash-recovery snapshot written after every executed
// order and on shutdown. Trade history is capped to the most recent entries;
// the full record lives in the history store.
type TradingState struct {
	Timestamp    time.Time                  `json:"timestamp"`
	Mode         domain.Mode                `json:"mode"`
	Positions    []domain.Position          `json:"positions"`
	AppliedIDs   []string                   `json:"applied_order_ids"`
	TradeHistory []domain.TradeHistoryEntry `json:"trade_history"`
	Stats        domain.TradeStats          `json:"stats"`
}

const maxHistoryInState = 50

// StateStore persists trading state as timestamped JSON files so a corrupted
// write never destroys the previous good snapshot.
type StateStore struct {
	dir string
}

// NewStateStore creates the store rooted at dir, creating it if needed.
func NewStateStore(dir string) (*StateStore, error) {
	if err := infra.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("state store dir: %w", err)
	}
	return &StateStore{dir: dir}, nil
}

// Save writes a new snapshot file. The write goes through a temp file and
// rename so readers never observe a partial snapshot.
func (s *StateStore) Save(state *TradingState) error {
	state.Timestamp = time.Now()
	if len(state.TradeHistory) > maxHistoryInState {
		state.TradeHistory = state.TradeHistory[len(state.TradeHistory)-maxHistoryInState:]
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	name := fmt.Sprintf("state_%d.json", state.Timestamp.UnixNano())
	final := filepath.Join(s.dir, name)
	tmp := final + ".tmp"

	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("commit state: %w", err)
	}

	slog.Debug("State saved",
		slog.String("file", name),
		slog.Int("positions", len(state.Positions)))
	return nil
}

// LoadLatest returns the most recent readable snapshot, skipping corrupt
// files. Returns (nil, nil) when no snapshot exists.
func (s *StateStore) LoadLatest() (*TradingState, error) {
	files, err := s.snapshotFiles()
	if err != nil {
		return nil, err
	}

	for i := len(files) - 1; i >= 0; i-- {
		data, err := os.ReadFile(files[i])
		if err != nil {
			slog.Warn("Unreadable state file skipped", slog.String("file", files[i]), slog.Any("error", err))
			continue
		}
		var state TradingState
		if err := json.Unmarshal(data, &state); err != nil {
			slog.Warn("Corrupt state file skipped", slog.String("file", files[i]), slog.Any("error", err))
			continue
		}
		return &state, nil
	}
	return nil, nil
}

// Cleanup removes all but the newest keepN snapshots.
func (s *StateStore) Cleanup(keepN int) error {
	files, err := s.snapshotFiles()
	if err != nil {
		return err
	}
	if len(files) <= keepN {
		return nil
	}
	for _, f := range files[:len(files)-keepN] {
		if err := os.Remove(f); err != nil {
			slog.Warn("Failed to remove old state file", slog.String("file", f), slog.Any("error", err))
		}
	}
	return nil
}

// snapshotFiles lists snapshot paths sorted oldest first. Lexicographic order
// works because the names embed fixed-width nanosecond timestamps.
func (s *StateStore) snapshotFiles() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read state dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "state_") || !strings.HasSuffix(name, ".json") {
			continue
		}
		files = append(files, filepath.Join(s.dir, name))
	}
	sort.Strings(files)
	return files, nil
}
