// Package audit records every decision in an append-only, hash-chained log.
package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	// ErrChainBroken reports an entry whose hash or link does not verify.
	ErrChainBroken = errors.New("audit: hash chain broken")
	// ErrConflict is returned by sinks when another writer already used the sequence number.
	ErrConflict = errors.New("audit: sequence already written")
)

// Sink stores entries durably.
type Sink interface {
	// Write persists e. It returns ErrConflict when e.Seq is taken.
	Write(ctx context.Context, e Entry) error
	// Last returns the entry with the highest sequence number.
	Last(ctx context.Context) (Entry, bool, error)
	// List returns entries in sequence order; limit > 0 keeps only the last limit.
	List(ctx context.Context, limit int) ([]Entry, error)
	Close() error
}

// Locker is implemented by sinks shared between processes. The lock is held
// from reading the chain head until the new entry is written.
type Locker interface {
	Lock(ctx context.Context) (unlock func(), err error)
}

const maxConflictRetries = 3

// Log appends entries to a sink, maintaining the hash chain.
type Log struct {
	mu     sync.Mutex
	sink   Sink
	seq    int64
	head   string
	loaded bool
	now    func() time.Time
}

// New creates a log writing to sink.
func New(sink Sink) *Log {
	return &Log{sink: sink, now: time.Now}
}

// Sink returns the underlying sink.
func (l *Log) Sink() Sink {
	return l.sink
}

// Append assigns sequence, time, id and chain hashes to e and writes it.
func (l *Log) Append(ctx context.Context, e Entry) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if lk, ok := l.sink.(Locker); ok {
		unlock, err := lk.Lock(ctx)
		if err != nil {
			return Entry{}, fmt.Errorf("lock audit sink: %w", err)
		}
		defer unlock()
		l.loaded = false
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.Time = l.now().UTC()

	for attempt := 0; ; attempt++ {
		if err := l.loadHead(ctx); err != nil {
			return Entry{}, err
		}

		e.Seq = l.seq + 1
		e.PrevHash = l.head
		hash, err := e.ComputeHash()
		if err != nil {
			return Entry{}, fmt.Errorf("hash audit entry: %w", err)
		}
		e.Hash = hash

		err = l.sink.Write(ctx, e)
		if errors.Is(err, ErrConflict) && attempt < maxConflictRetries {
			log.Debug().Str("component", "audit").Int64("seq", e.Seq).Msg("sequence taken, reloading chain head")
			l.loaded = false
			continue
		}
		if err != nil {
			return Entry{}, fmt.Errorf("write audit entry: %w", err)
		}

		l.seq, l.head = e.Seq, e.Hash
		return e, nil
	}
}

func (l *Log) loadHead(ctx context.Context) error {
	if l.loaded {
		return nil
	}
	last, ok, err := l.sink.Last(ctx)
	if err != nil {
		return fmt.Errorf("read audit head: %w", err)
	}
	if ok {
		l.seq, l.head = last.Seq, last.Hash
	} else {
		l.seq, l.head = 0, GenesisHash
	}
	l.loaded = true
	return nil
}

// Close closes the sink.
func (l *Log) Close() error {
	return l.sink.Close()
}

// Verify checks sequence continuity, links and hashes of entries, which must
// start at the beginning of the chain. The error wraps ErrChainBroken and
// names the first bad sequence number.
func Verify(entries []Entry) error {
	prev := GenesisHash
	var seq int64
	for _, e := range entries {
		seq++
		if e.Seq != seq {
			return fmt.Errorf("%w: expected seq %d, found %d", ErrChainBroken, seq, e.Seq)
		}
		if e.PrevHash != prev {
			return fmt.Errorf("%w: seq %d does not link to its predecessor", ErrChainBroken, e.Seq)
		}
		want, err := e.ComputeHash()
		if err != nil {
			return fmt.Errorf("%w: seq %d: %v", ErrChainBroken, e.Seq, err)
		}
		if want != e.Hash {
			return fmt.Errorf("%w: seq %d hash mismatch", ErrChainBroken, e.Seq)
		}
		prev = e.Hash
	}
	return nil
}
