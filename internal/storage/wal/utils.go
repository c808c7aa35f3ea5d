package wal

// ============================================================================
// Journal 工具函式
// 職責：提供讀取、驗證與診斷 journal 檔案的輔助功能
// ============================================================================

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ChuLiYu/kw-sourcing/pkg/types"
)

// maxLineSize bounds one journal line; section texts can be long.
const maxLineSize = 16 << 20

// scanLines 逐行解析事件；不驗證 checksum
func scanLines(r io.Reader, fn func(line int, e Event, err error) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineSize)
	line := 0
	for sc.Scan() {
		line++
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}
		var e Event
		var perr error
		if err := json.Unmarshal(raw, &e); err != nil {
			perr = &CorruptionError{Line: line, Cause: err}
		}
		if err := fn(line, e, perr); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("wal: read: %w", err)
	}
	return nil
}

// replayFile 嚴格重放：任何損壞或校驗錯誤都中止
func replayFile(path string, handler EventHandler) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("wal: open %s: %w", path, err)
	}
	defer f.Close()

	return scanLines(f, func(_ int, e Event, perr error) error {
		if perr != nil {
			return perr
		}
		if err := VerifyChecksum(e); err != nil {
			return err
		}
		return handler(e)
	})
}

// ============================================================================
// 檔案操作輔助
// ============================================================================

// GetLastEvent 從檔案讀取最後一個可解析的事件
//
// 從頭到尾掃描，回傳最後一個成功解析的事件；檔案為空時回傳 ErrEmptyWAL。
func GetLastEvent(path string) (*Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("wal: open %s: %w", path, err)
	}
	defer f.Close()

	var last *Event
	err = scanLines(f, func(_ int, e Event, perr error) error {
		if perr == nil {
			ev := e
			last = &ev
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if last == nil {
		return nil, ErrEmptyWAL
	}
	return last, nil
}

// CountEvents 計算可解析的事件總數，損壞的行不計
func CountEvents(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("wal: open %s: %w", path, err)
	}
	defer f.Close()

	n := 0
	err = scanLines(f, func(_ int, _ Event, perr error) error {
		if perr == nil {
			n++
		}
		return nil
	})
	return n, err
}

// ValidateWAL 驗證檔案的完整性
//
// 檢查項目：
// - 所有事件的 JSON 格式正確
// - 所有事件的校驗和正確
// - seq 從 1 開始連續且無重複
//
// 回報所有問題（不只是第一個）
func ValidateWAL(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("wal: open %s: %w", path, err)
	}
	defer f.Close()

	var (
		problems []error
		lastSeq  uint64
	)
	err = scanLines(f, func(line int, e Event, perr error) error {
		if perr != nil {
			problems = append(problems, perr)
			return nil
		}
		if err := VerifyChecksum(e); err != nil {
			problems = append(problems, err)
		}
		if e.Seq != lastSeq+1 {
			problems = append(problems, fmt.Errorf("%w: line %d has seq=%d after seq=%d", ErrSequenceGap, line, e.Seq, lastSeq))
		}
		lastSeq = e.Seq
		return nil
	})
	if err != nil {
		return err
	}
	return errors.Join(problems...)
}

// ============================================================================
// 讀取記錄
// ============================================================================

// ReadRecords 依序回呼每筆已驗證的記錄；onFailure 或 onMetadata 可為 nil
func ReadRecords(path string, onFailure func(types.FailureRecord) error, onMetadata func(types.MetadataRecord) error) error {
	return replayFile(path, func(e Event) error {
		switch e.Type {
		case EventFailure:
			if onFailure != nil {
				return onFailure(e.FailureRecord())
			}
		case EventMetadata:
			if onMetadata != nil {
				return onMetadata(e.MetadataRecord())
			}
		}
		return nil
	})
}

// ============================================================================
// 除錯與診斷工具
// ============================================================================

// DumpWAL 輸出人類可讀格式
//
//	[Seq:1] FAILURE KI1I/00000000/4 NOT_FOUND at 2026-01-01T00:00:00Z (checksum:0x12345678)
//	[Seq:2] METADATA KI1I/00000008/0 11 fields at ... (checksum:0x87654321)
//
// 損壞或校驗錯誤的事件會加註標記
func DumpWAL(path string, w io.Writer) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("wal: open %s: %w", path, err)
	}
	defer f.Close()

	return scanLines(f, func(line int, e Event, perr error) error {
		if perr != nil {
			_, err := fmt.Fprintf(w, "[line %d] CORRUPTED: %v\n", line, perr)
			return err
		}
		detail := string(e.Reason)
		if e.Type == EventMetadata {
			detail = fmt.Sprintf("%d fields", len(e.Fields))
		}
		mark := ""
		if VerifyChecksum(e) != nil {
			mark = " CHECKSUM MISMATCH"
		}
		_, err := fmt.Fprintf(w, "[Seq:%d] %s %s %s at %s (checksum:0x%08x)%s\n",
			e.Seq, e.Type, e.BookID, detail,
			time.UnixMilli(e.Timestamp).UTC().Format(time.RFC3339), e.Checksum, mark)
		return err
	})
}

// ============================================================================
// 統計與分析
// ============================================================================

// WALStats journal 統計資訊
type WALStats struct {
	TotalEvents    int                         // 總事件數
	EventTypes     map[EventType]int           // 各類型事件計數
	Reasons        map[types.FailureReason]int // 失敗原因計數
	FirstSeq       uint64                      // 第一個事件的 seq
	LastSeq        uint64                      // 最後一個事件的 seq
	TimeRange      [2]int64                    // 時間範圍 [最早, 最晚]
	CorruptedCount int                         // 損壞事件數
}

// GetWALStats 取得 journal 的統計資訊
func GetWALStats(path string) (*WALStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("wal: open %s: %w", path, err)
	}
	defer f.Close()

	stats := &WALStats{
		EventTypes: make(map[EventType]int),
		Reasons:    make(map[types.FailureReason]int),
	}
	err = scanLines(f, func(_ int, e Event, perr error) error {
		if perr != nil || VerifyChecksum(e) != nil {
			stats.CorruptedCount++
			return nil
		}
		if stats.TotalEvents == 0 {
			stats.FirstSeq = e.Seq
			stats.TimeRange[0] = e.Timestamp
		}
		stats.TotalEvents++
		stats.EventTypes[e.Type]++
		if e.Type == EventFailure {
			stats.Reasons[e.Reason]++
		}
		stats.LastSeq = e.Seq
		if e.Timestamp < stats.TimeRange[0] {
			stats.TimeRange[0] = e.Timestamp
		}
		if e.Timestamp > stats.TimeRange[1] {
			stats.TimeRange[1] = e.Timestamp
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}
