package audit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

const (
	maxLineSize    = 4 << 20
	lockRetryDelay = 10 * time.Millisecond
)

// FileSink appends entries as JSON lines to a file. Processes sharing the
// file serialize appends through an advisory lock on path + ".lock".
type FileSink struct {
	mu   sync.Mutex
	path string
	f    *os.File
	lock *flock.Flock
}

// OpenFile opens or creates the JSONL log at path.
func OpenFile(path string) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	return &FileSink{path: path, f: f, lock: flock.New(path + ".lock")}, nil
}

func (s *FileSink) Path() string {
	return s.path
}

// Lock takes the exclusive advisory lock, waiting until ctx is done.
func (s *FileSink) Lock(ctx context.Context) (func(), error) {
	ok, err := s.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("audit log %s is locked", s.path)
	}
	return func() { _ = s.lock.Unlock() }, nil
}

func (s *FileSink) Write(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	last, ok, err := s.lastLocked()
	if err != nil {
		return err
	}
	if ok && last.Seq >= e.Seq {
		return ErrConflict
	}

	line, err := json.Marshal(e)
	if err != nil {
		return err
	}
	line = append(line, '\n')
	if _, err := s.f.Write(line); err != nil {
		return err
	}
	return s.f.Sync()
}

func (s *FileSink) Last(_ context.Context) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastLocked()
}

// lastLocked reads the final line by scanning backwards from the end of the file.
func (s *FileSink) lastLocked() (Entry, bool, error) {
	info, err := s.f.Stat()
	if err != nil {
		return Entry{}, false, err
	}
	size := info.Size()

	const chunk = 4096
	var line []byte
	end := size
	for end > 0 {
		start := max(end-chunk, 0)
		buf := make([]byte, end-start)
		if _, err := s.f.ReadAt(buf, start); err != nil && !errors.Is(err, io.EOF) {
			return Entry{}, false, err
		}
		line = append(buf, line...)

		trimmed := bytes.TrimRight(line, "\r\n")
		if i := bytes.LastIndexByte(trimmed, '\n'); i >= 0 {
			line = trimmed[i+1:]
			break
		}
		if int64(len(line)) > maxLineSize {
			return Entry{}, false, fmt.Errorf("audit log %s: last line exceeds %d bytes", s.path, maxLineSize)
		}
		end = start
	}

	line = bytes.TrimRight(line, "\r\n")
	if len(line) == 0 {
		return Entry{}, false, nil
	}
	var e Entry
	if err := json.Unmarshal(line, &e); err != nil {
		return Entry{}, false, fmt.Errorf("decode last audit entry: %w", err)
	}
	return e, true, nil
}

func (s *FileSink) List(ctx context.Context, limit int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []Entry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxLineSize)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(sc.Bytes()) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("audit log %s line %d: %w", s.path, lineNo, err)
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return tail(entries, limit), nil
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return errors.Join(s.f.Close(), s.lock.Close())
}
