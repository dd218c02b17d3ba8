package audit

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adrianpk/gatekeeper/internal/gate"
)

func appendN(t *testing.T, lg *Log, n int) []Entry {
	t.Helper()
	var out []Entry
	for i := 0; i < n; i++ {
		e, err := lg.Append(context.Background(), Entry{Kind: "bash", Subject: "ls", Verdict: "allow"})
		require.NoError(t, err)
		out = append(out, e)
	}
	return out
}

func TestAppendBuildsChain(t *testing.T) {
	sink := NewMemorySink()
	lg := New(sink)

	entries := appendN(t, lg, 3)

	assert.Equal(t, int64(1), entries[0].Seq)
	assert.Equal(t, GenesisHash, entries[0].PrevHash)
	assert.Equal(t, entries[0].Hash, entries[1].PrevHash)
	assert.Equal(t, entries[1].Hash, entries[2].PrevHash)
	assert.NotEmpty(t, entries[0].ID)
	assert.True(t, strings.HasPrefix(entries[2].Hash, "sha256:"))
	assert.Equal(t, time.UTC, entries[0].Time.Location())

	require.NoError(t, Verify(sink.Entries()))
}

func TestAppendKeepsCallerID(t *testing.T) {
	lg := New(NewMemorySink())
	e, err := lg.Append(context.Background(), Entry{ID: "decision-1", Kind: "fetch", Verdict: "ask"})
	require.NoError(t, err)
	assert.Equal(t, "decision-1", e.ID)
}

func TestVerifyDetectsTampering(t *testing.T) {
	tests := []struct {
		name   string
		mutate func([]Entry) []Entry
	}{
		{
			name: "changed verdict",
			mutate: func(es []Entry) []Entry {
				es[1].Verdict = "deny"
				return es
			},
		},
		{
			name: "removed entry",
			mutate: func(es []Entry) []Entry {
				return append(es[:1], es[2:]...)
			},
		},
		{
			name: "reordered entries",
			mutate: func(es []Entry) []Entry {
				es[1], es[2] = es[2], es[1]
				return es
			},
		},
		{
			name: "rehashed entry breaks the next link",
			mutate: func(es []Entry) []Entry {
				es[0].Reason = "edited"
				es[0].Hash, _ = es[0].ComputeHash()
				return es
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := NewMemorySink()
			appendN(t, New(sink), 3)
			err := Verify(tt.mutate(sink.Entries()))
			assert.True(t, errors.Is(err, ErrChainBroken), "got %v", err)
		})
	}
}

func TestHashIgnoresUnicodeForm(t *testing.T) {
	composed := Entry{Seq: 1, Subject: "caf\u00e9", PrevHash: GenesisHash}
	decomposed := Entry{Seq: 1, Subject: "cafe\u0301", PrevHash: GenesisHash}

	h1, err := composed.ComputeHash()
	require.NoError(t, err)
	h2, err := decomposed.ComputeHash()
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestGateRecordIsHashed(t *testing.T) {
	lg := New(NewMemorySink())
	run := gate.Run{
		Gate:    "pre-push",
		Overall: gate.Fail,
		Results: []gate.Result{{Name: "tests", ExitCode: 1, Failure: gate.FailExit, Output: "FAIL"}},
	}
	e, err := lg.Append(context.Background(), Entry{Kind: "bash", Verdict: "deny", Gate: FromRun(run)})
	require.NoError(t, err)

	require.Len(t, e.Gate.Checks, 1)
	assert.Equal(t, "fail", e.Gate.Overall)

	e.Gate.Checks[0].Output = "ok"
	got, err := e.ComputeHash()
	require.NoError(t, err)
	assert.NotEqual(t, e.Hash, got)
}

func TestFileSinkContinuesChain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "audit.jsonl")

	sink, err := OpenFile(path)
	require.NoError(t, err)
	appendN(t, New(sink), 2)
	require.NoError(t, sink.Close())

	sink, err = OpenFile(path)
	require.NoError(t, err)
	defer sink.Close()
	lg := New(sink)
	e, err := lg.Append(context.Background(), Entry{Kind: "write", Subject: "a.go", Verdict: "ask"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), e.Seq)

	entries, err := sink.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.NoError(t, Verify(entries))

	tailed, err := sink.List(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, tailed, 1)
	assert.Equal(t, int64(3), tailed[0].Seq)
}

func TestFileSinkSharedBetweenLogs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	a, err := OpenFile(path)
	require.NoError(t, err)
	defer a.Close()
	b, err := OpenFile(path)
	require.NoError(t, err)
	defer b.Close()

	la, lb := New(a), New(b)
	appendN(t, la, 1)
	appendN(t, lb, 1)
	appendN(t, la, 1)

	entries, err := a.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.NoError(t, Verify(entries))
}

func TestFileSinkLockIsExclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	a, err := OpenFile(path)
	require.NoError(t, err)
	defer a.Close()
	b, err := OpenFile(path)
	require.NoError(t, err)
	defer b.Close()

	unlock, err := a.Lock(context.Background())
	require.NoError(t, err)
	assert.FileExists(t, path+".lock")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = b.Lock(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlockB, err := b.Lock(context.Background())
	require.NoError(t, err)
	unlockB()
}

func TestFileSinkLastOnLongLines(t *testing.T) {
	sink, err := OpenFile(filepath.Join(t.TempDir(), "audit.jsonl"))
	require.NoError(t, err)
	defer sink.Close()

	lg := New(sink)
	long := strings.Repeat("x", 10000)
	for i := 0; i < 3; i++ {
		_, err := lg.Append(context.Background(), Entry{Kind: "write", Subject: long, Verdict: "allow"})
		require.NoError(t, err)
	}

	last, ok, err := sink.Last(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(3), last.Seq)
}

func TestDiscard(t *testing.T) {
	lg := New(Discard{})
	e, err := lg.Append(context.Background(), Entry{Kind: "bash"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), e.Seq)
}
