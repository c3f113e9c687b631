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

	logx "bacsched/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.dispatch.jsonl (append-only JSON Lines)
//   - <prefix>.history.jsonl  (append-only JSON Lines)
//
// Prune rewrites each file in place, dropping entries older than the cutoff.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	dispatchPath string
	historyPath  string
	dispatchFile *os.File
	historyFile  *os.File
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

	dispatchPath := prefix + ".dispatch.jsonl"
	historyPath := prefix + ".history.jsonl"

	df, err := os.OpenFile(dispatchPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	hf, err := os.OpenFile(historyPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		_ = df.Close()
		return nil, err
	}

	return &fileStore{
		log:          log,
		dispatchPath: dispatchPath,
		historyPath:  historyPath,
		dispatchFile: df,
		historyFile:  hf,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err1, err2 error
	if s.dispatchFile != nil {
		err1 = s.dispatchFile.Close()
		s.dispatchFile = nil
	}
	if s.historyFile != nil {
		err2 = s.historyFile.Close()
		s.historyFile = nil
	}
	if err1 != nil {
		return err1
	}
	return err2
}

func (s *fileStore) AppendDispatch(ctx context.Context, e DispatchEntry) error {
	_ = ctx
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dispatchFile == nil {
		return errors.New("dispatch log closed")
	}
	return json.NewEncoder(s.dispatchFile).Encode(e)
}

func (s *fileStore) AppendTransition(ctx context.Context, e TransitionEntry) error {
	_ = ctx
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.historyFile == nil {
		return errors.New("history log closed")
	}
	return json.NewEncoder(s.historyFile).Encode(e)
}

func (s *fileStore) Prune(ctx context.Context, olderThan time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	if err := s.pruneFileLocked(ctx, s.dispatchPath, &s.dispatchFile, olderThan); err != nil {
		firstErr = err
	}
	if err := s.pruneFileLocked(ctx, s.historyPath, &s.historyFile, olderThan); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// pruneFileLocked rewrites one jsonl file keeping only entries at or after
// the cutoff, then swaps it in and reopens the append handle.
func (s *fileStore) pruneFileLocked(ctx context.Context, path string, handle **os.File, olderThan time.Time) error {
	if *handle == nil {
		return errors.New("log closed")
	}

	in, err := os.Open(path)
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		_ = in.Close()
		return err
	}

	kept, dropped := 0, 0
	sc := bufio.NewScanner(in)
	w := bufio.NewWriter(out)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			_ = in.Close()
			_ = out.Close()
			_ = os.Remove(tmp)
			return err
		}
		line := sc.Bytes()
		var probe struct {
			At time.Time `json:"at"`
		}
		// Unparseable lines are kept rather than silently destroyed.
		if err := json.Unmarshal(line, &probe); err == nil && !probe.At.IsZero() && probe.At.Before(olderThan) {
			dropped++
			continue
		}
		w.Write(line)
		w.WriteByte('\n')
		kept++
	}
	_ = in.Close()
	if err := sc.Err(); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := w.Flush(); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}

	_ = (*handle).Close()
	if err := os.Rename(tmp, path); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		*handle = nil
		return err
	}
	*handle = f

	s.log.Debug("log pruned", logx.String("path", path), logx.Int("kept", kept), logx.Int("dropped", dropped))
	return nil
}
