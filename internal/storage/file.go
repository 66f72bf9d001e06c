package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "palbot/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.settings.json  (full snapshot, atomic rename on write)
//   - <prefix>.outcomes.jsonl (append-only JSON Lines)
//
// Settings writes are rare (dashboard toggles), so a full snapshot per write
// is fine and keeps the file human-editable.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	settingsPath string
	settings     map[string]string

	outcomesFile *os.File
}

type outcomeRecord struct {
	At           string `json:"at"`
	Conversation string `json:"conversation"`
	Agent        string `json:"agent"`
	Result       string `json:"result"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	settingsPath := prefix + ".settings.json"
	outcomesPath := prefix + ".outcomes.jsonl"

	settings := map[string]string{}
	if err := loadSettingsSnapshot(settingsPath, settings); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("settings snapshot unreadable; starting empty", logx.String("path", settingsPath), logx.Any("err", err))
	}

	of, err := os.OpenFile(outcomesPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	return &fileStore{
		log:          log,
		settingsPath: settingsPath,
		settings:     settings,
		outcomesFile: of,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outcomesFile != nil {
		err := s.outcomesFile.Close()
		s.outcomesFile = nil
		return err
	}
	return nil
}

func (s *fileStore) GetSetting(ctx context.Context, key string) (string, bool, error) {
	_ = ctx
	key = strings.TrimSpace(key)
	if key == "" {
		return "", false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.settings[key]
	return v, ok, nil
}

func (s *fileStore) PutSetting(ctx context.Context, key, value string) error {
	_ = ctx
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settings == nil {
		s.settings = map[string]string{}
	}
	s.settings[key] = value
	return s.writeSettingsLocked()
}

func (s *fileStore) RecordOutcome(ctx context.Context, o Outcome) error {
	_ = ctx
	if o.At.IsZero() {
		o.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outcomesFile == nil {
		return errors.New("outcomes file closed")
	}
	enc := json.NewEncoder(s.outcomesFile)
	return enc.Encode(outcomeRecord{
		At:           o.At.Format(time.RFC3339Nano),
		Conversation: o.Conversation,
		Agent:        o.Agent,
		Result:       o.Result,
	})
}

func (s *fileStore) writeSettingsLocked() error {
	tmp := s.settingsPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s.settings); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.settingsPath)
}

func loadSettingsSnapshot(path string, out map[string]string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	r := bufio.NewReader(f)
	var m map[string]string
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}
