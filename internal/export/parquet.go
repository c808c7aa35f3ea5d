// Package export converts journaled metadata records into columnar files.
package export

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"

	"github.com/ChuLiYu/kw-sourcing/internal/storage/wal"
	"github.com/ChuLiYu/kw-sourcing/pkg/types"
)

// Row is one found book, flattened. Field names follow the metadata labels.
type Row struct {
	ID           string `json:"id" parquet:"id"`
	Department   string `json:"department" parquet:"department"`
	Number       int64  `json:"number" parquet:"number"`
	RegisterNo   string `json:"register_number" parquet:"register_number"`
	BookType     string `json:"book_type" parquet:"book_type"`
	Court        string `json:"court" parquet:"court"`
	EntryDate    string `json:"entry_date" parquet:"entry_date"`
	Location     string `json:"location" parquet:"location"`
	Owner        string `json:"owner" parquet:"owner"`
	SectionIO    string `json:"section_i_o" parquet:"section_i_o"`
	SectionISp   string `json:"section_i_sp" parquet:"section_i_sp"`
	SectionII    string `json:"section_ii" parquet:"section_ii"`
	SectionIII   string `json:"section_iii" parquet:"section_iii"`
	SectionIV    string `json:"section_iv" parquet:"section_iv"`
	InjectedAtMs int64  `json:"injection_timestamp" parquet:"injection_timestamp"`
}

// RowFromRecord flattens a metadata record. Unknown fields are dropped.
func RowFromRecord(r types.MetadataRecord) Row {
	row := Row{
		ID:           r.ID,
		RegisterNo:   r.Fields["Numer księgi wieczystej"],
		BookType:     r.Fields["Typ księgi wieczystej"],
		Court:        r.Fields["Oznaczenie wydziału prowadzącego księgę wieczystą"],
		EntryDate:    r.Fields["Data zapisania księgi wieczystej"],
		Location:     r.Fields["Położenie"],
		Owner:        r.Fields["Właściciel / użytkownik wieczysty / uprawniony"],
		SectionIO:    r.Fields["Dział I-O"],
		SectionISp:   r.Fields["Dział I-Sp"],
		SectionII:    r.Fields["Dział II"],
		SectionIII:   r.Fields["Dział III"],
		SectionIV:    r.Fields["Dział IV"],
		InjectedAtMs: r.InjectedAt.UnixMilli(),
	}
	if id, err := types.ParseBookID(r.ID); err == nil {
		row.Department = string(id.Department)
		row.Number = int64(id.Number)
	}
	return row
}

// Write encodes rows as a parquet file.
func Write(w io.Writer, rows []Row) error {
	pw := parquet.NewGenericWriter[Row](w)
	if _, err := pw.Write(rows); err != nil {
		return fmt.Errorf("write parquet rows: %w", err)
	}
	if err := pw.Close(); err != nil {
		return fmt.Errorf("close parquet writer: %w", err)
	}
	return nil
}

// FromJournal writes every metadata record of the journal at journalPath into
// a parquet file at outPath. It returns the number of rows written.
func FromJournal(journalPath, outPath string) (int, error) {
	var rows []Row
	err := wal.ReadRecords(journalPath, nil, func(r types.MetadataRecord) error {
		rows = append(rows, RowFromRecord(r))
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("read journal: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return 0, fmt.Errorf("create export dir: %w", err)
	}
	tmp := outPath + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", tmp, err)
	}
	if err := Write(f, rows); err != nil {
		f.Close()
		os.Remove(tmp)
		return 0, err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, outPath); err != nil {
		return 0, fmt.Errorf("rename export: %w", err)
	}
	slog.Debug("parquet export written", "path", outPath, "rows", len(rows))
	return len(rows), nil
}

// Read loads every row of a parquet export.
func Read(path string) ([]Row, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	pf, err := parquet.OpenFile(file, info.Size())
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet: %w", err)
	}

	reader := parquet.NewGenericReader[Row](pf)
	defer reader.Close()

	rows := make([]Row, 0, pf.NumRows())
	batch := make([]Row, 128)
	for {
		n, err := reader.Read(batch)
		rows = append(rows, batch[:n]...)
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read parquet rows: %w", err)
		}
	}
}
