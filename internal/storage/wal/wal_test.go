package wal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/kw-sourcing/pkg/types"
)

// ============================================================================
// Test helpers
// ============================================================================

func openTestJournal(t *testing.T, path string) *Journal {
	t.Helper()
	j, err := Open(path, WithSyncOnAppend(false))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
}

// ============================================================================
// Append / Replay
// ============================================================================

func TestJournal_AppendAndReplay(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "journal", "kw.jsonl")
	j := openTestJournal(t, path)
	fixed := time.UnixMilli(1_760_000_000_000)
	j.now = func() time.Time { return fixed }

	require.NoError(t, j.AppendFailure(ctx, "KI1I/00000000/4", types.ReasonNotFound))
	require.NoError(t, j.AppendMetadata(ctx, types.MetadataRecord{
		ID:     "KI1I/00000008/0",
		Fields: map[string]string{"Położenie": "KIELCE"},
	}))
	require.NoError(t, j.AppendFailure(ctx, "KI1I/00000009/3", types.ReasonAPIException))
	assert.Equal(t, uint64(3), j.LastSeq())

	var events []Event
	require.NoError(t, j.Replay(func(e Event) error {
		events = append(events, e)
		return nil
	}))
	require.Len(t, events, 3)
	for i, e := range events {
		assert.Equal(t, uint64(i+1), e.Seq)
		assert.Equal(t, fixed.UnixMilli(), e.Timestamp)
	}
	assert.Equal(t, EventMetadata, events[1].Type)
	assert.Equal(t, "KIELCE", events[1].Fields["Położenie"])
	assert.Equal(t, types.ReasonAPIException, events[2].Reason)

	rec := events[1].MetadataRecord()
	assert.Equal(t, "KI1I/00000008/0", rec.ID)
	assert.True(t, rec.InjectedAt.Equal(fixed))
}

func TestJournal_ReopenContinuesSequence(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "kw.jsonl")

	j, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, j.AppendFailure(ctx, "KI1I/00000000/4", types.ReasonNotFound))
	require.NoError(t, j.AppendFailure(ctx, "KI1I/00000001/1", types.ReasonNotFound))
	require.NoError(t, j.Close())
	assert.ErrorIs(t, j.AppendFailure(ctx, "x", types.ReasonNotFound), ErrWALClosed)

	j2 := openTestJournal(t, path)
	assert.Equal(t, uint64(2), j2.LastSeq())
	require.NoError(t, j2.AppendFailure(ctx, "KI1I/00000002/8", types.ReasonNotFound))
	assert.NoError(t, ValidateWAL(path))

	n, err := CountEvents(path)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestJournal_TornTailIsDiscarded(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "kw.jsonl")

	j, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, j.AppendFailure(ctx, "KI1I/00000000/4", types.ReasonNotFound))
	require.NoError(t, j.Close())

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"seq":2,"type":"FAIL`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	j2 := openTestJournal(t, path)
	assert.Equal(t, uint64(1), j2.LastSeq())
	require.NoError(t, j2.AppendFailure(ctx, "KI1I/00000001/1", types.ReasonNotFound))

	assert.Len(t, readLines(t, path), 2)
	assert.NoError(t, ValidateWAL(path))
}

func TestJournal_ReplayDetectsTampering(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "kw.jsonl")
	j, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, j.AppendFailure(ctx, "KI1I/00000000/4", types.ReasonNotFound))
	require.NoError(t, j.Close())

	lines := readLines(t, path)
	var e Event
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &e))
	e.Reason = types.ReasonAPIException
	raw, err := json.Marshal(e)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, append(raw, '\n'), 0o644))

	j2 := openTestJournal(t, path)
	err = j2.Replay(func(Event) error { return nil })
	assert.ErrorIs(t, err, ErrChecksumMismatch)

	var cerr *ChecksumError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, uint64(1), cerr.Seq)
	assert.Contains(t, cerr.Error(), "seq=1")
}

// ============================================================================
// ResultSink
// ============================================================================

func TestJournal_LastSequenceNumber(t *testing.T) {
	ctx := context.Background()
	j := openTestJournal(t, filepath.Join(t.TempDir(), "kw.jsonl"))

	_, ok, err := j.LastSequenceNumber(ctx, "KI1I")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, j.AppendMetadata(ctx, types.MetadataRecord{ID: "KI1I/00000008/0"}))
	require.NoError(t, j.AppendMetadata(ctx, types.MetadataRecord{ID: "KI1I/00000120/5"}))
	require.NoError(t, j.AppendMetadata(ctx, types.MetadataRecord{ID: "WA1M/00009999/1"}))
	// failures do not count
	require.NoError(t, j.AppendFailure(ctx, "KI1I/00099999/2", types.ReasonNotFound))

	seq, ok, err := j.LastSequenceNumber(ctx, "KI1I")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 120, seq)
}

func TestJournal_ConcurrentAppends(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "kw.jsonl")
	j := openTestJournal(t, path)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				assert.NoError(t, j.AppendFailure(ctx, "KI1I/00000000/4", types.ReasonNotFound))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, uint64(400), j.LastSeq())
	assert.NoError(t, ValidateWAL(path))
}

// ============================================================================
// Utilities
// ============================================================================

func TestValidateWAL_ReportsAllProblems(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kw.jsonl")
	good := Event{Seq: 1, Type: EventFailure, BookID: "a", Reason: types.ReasonNotFound, Timestamp: 1}
	good.Checksum = CalculateChecksum(good)
	gap := Event{Seq: 5, Type: EventFailure, BookID: "b", Reason: types.ReasonNotFound, Timestamp: 2}
	gap.Checksum = CalculateChecksum(gap)
	bad := Event{Seq: 6, Type: EventFailure, BookID: "c", Timestamp: 3, Checksum: 1}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	require.NoError(t, enc.Encode(good))
	require.NoError(t, enc.Encode(gap))
	buf.WriteString("not json\n")
	require.NoError(t, enc.Encode(bad))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	err := ValidateWAL(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSequenceGap)
	assert.ErrorIs(t, err, ErrCorruptedWAL)
	assert.ErrorIs(t, err, ErrChecksumMismatch)

	stats, err := GetWALStats(path)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalEvents)
	assert.Equal(t, 2, stats.CorruptedCount)
	assert.Equal(t, uint64(1), stats.FirstSeq)
	assert.Equal(t, uint64(5), stats.LastSeq)
	assert.Equal(t, 2, stats.Reasons[types.ReasonNotFound])

	last, err := GetLastEvent(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(6), last.Seq)
}

func TestGetLastEvent_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kw.jsonl")
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	_, err := GetLastEvent(path)
	assert.ErrorIs(t, err, ErrEmptyWAL)
}

func TestDumpWAL(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "kw.jsonl")
	j := openTestJournal(t, path)
	require.NoError(t, j.AppendFailure(ctx, "KI1I/00000000/4", types.ReasonNotFound))
	require.NoError(t, j.AppendMetadata(ctx, types.MetadataRecord{ID: "KI1I/00000008/0", Fields: map[string]string{"a": "b"}}))

	var out bytes.Buffer
	require.NoError(t, DumpWAL(path, &out))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "[Seq:1] FAILURE KI1I/00000000/4 NOT_FOUND")
	assert.Contains(t, lines[1], "[Seq:2] METADATA KI1I/00000008/0 1 fields")
	assert.NotContains(t, out.String(), "MISMATCH")
}

func TestReadRecords(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "kw.jsonl")
	j := openTestJournal(t, path)
	require.NoError(t, j.AppendFailure(ctx, "KI1I/00000000/4", types.ReasonNotFound))
	require.NoError(t, j.AppendMetadata(ctx, types.MetadataRecord{ID: "KI1I/00000008/0"}))

	var failures, metadata int
	require.NoError(t, ReadRecords(path,
		func(types.FailureRecord) error { failures++; return nil },
		func(types.MetadataRecord) error { metadata++; return nil },
	))
	assert.Equal(t, 1, failures)
	assert.Equal(t, 1, metadata)

	require.NoError(t, ReadRecords(path, nil, nil))
}

func TestChecksumCoversFields(t *testing.T) {
	a := Event{Seq: 1, Type: EventMetadata, BookID: "x", Fields: map[string]string{"k": "v1"}}
	b := a
	b.Fields = map[string]string{"k": "v2"}
	assert.NotEqual(t, CalculateChecksum(a), CalculateChecksum(b))

	c := Event{Seq: 1, Type: EventFailure, BookID: "ab", Reason: "c"}
	d := Event{Seq: 1, Type: EventFailure, BookID: "a", Reason: "bc"}
	assert.NotEqual(t, CalculateChecksum(c), CalculateChecksum(d))
}
