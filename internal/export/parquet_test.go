package export

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/kw-sourcing/internal/storage/wal"
	"github.com/ChuLiYu/kw-sourcing/pkg/types"
)

func TestRowFromRecord(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	row := RowFromRecord(types.MetadataRecord{
		ID: "KI1I/00000008/0",
		Fields: map[string]string{
			"Numer księgi wieczystej": "KI1I/00000008/0",
			"Położenie":               "KIELCE",
			"Dział II":                "JAN KOWALSKI",
			"unknown":                 "dropped",
		},
		InjectedAt: at,
	})

	assert.Equal(t, "KI1I", row.Department)
	assert.Equal(t, int64(8), row.Number)
	assert.Equal(t, "KI1I/00000008/0", row.RegisterNo)
	assert.Equal(t, "KIELCE", row.Location)
	assert.Equal(t, "JAN KOWALSKI", row.SectionII)
	assert.Empty(t, row.Owner)
	assert.Equal(t, at.UnixMilli(), row.InjectedAtMs)
}

func TestRowFromRecord_UnparseableID(t *testing.T) {
	row := RowFromRecord(types.MetadataRecord{ID: "garbage"})
	assert.Equal(t, "garbage", row.ID)
	assert.Empty(t, row.Department)
}

func TestFromJournal(t *testing.T) {
	dir := t.TempDir()
	journalPath := filepath.Join(dir, "results.wal")
	ctx := context.Background()

	j, err := wal.Open(journalPath)
	require.NoError(t, err)
	require.NoError(t, j.AppendFailure(ctx, "KI1I/00000000/4", types.ReasonNotFound))
	require.NoError(t, j.AppendMetadata(ctx, types.MetadataRecord{
		ID:     "KI1I/00000008/0",
		Fields: map[string]string{"Numer księgi wieczystej": "KI1I/00000008/0", "Położenie": "KIELCE", "Typ księgi wieczystej": "LOKAL"},
	}))
	require.NoError(t, j.AppendMetadata(ctx, types.MetadataRecord{
		ID:     "WA1M/00000017/3",
		Fields: map[string]string{"Położenie": "WARSZAWA"},
	}))
	require.NoError(t, j.Close())

	outPath := filepath.Join(dir, "export", "books.parquet")
	n, err := FromJournal(journalPath, outPath)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rows, err := Read(outPath)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "KI1I/00000008/0", rows[0].ID)
	assert.Equal(t, "LOKAL", rows[0].BookType)
	assert.Equal(t, "KI1I/00000008/0", rows[0].RegisterNo)
	assert.Equal(t, "WARSZAWA", rows[1].Location)
	assert.Equal(t, int64(17), rows[1].Number)
}

func TestFromJournal_MissingJournal(t *testing.T) {
	_, err := FromJournal(filepath.Join(t.TempDir(), "nope.wal"), filepath.Join(t.TempDir(), "out.parquet"))
	assert.Error(t, err)
}
