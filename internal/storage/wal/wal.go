package wal

// ============================================================================
// Journal 核心實作
// 職責：
// 1. 追加失敗與成功記錄到日誌檔案（append-only JSON lines）
// 2. 每筆記錄附帶遞增 seq 與 CRC32 校驗和
// 3. 提供重放功能，供 LastSequenceNumber、驗證與匯出使用
// 4. 確保寫入持久性（每次追加 fsync，可關閉）
// ============================================================================

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ChuLiYu/kw-sourcing/internal/sink"
	"github.com/ChuLiYu/kw-sourcing/pkg/types"
)

// FileInterface 定義檔案操作所需的方法
// 這允許在測試中對檔案操作進行模擬
type FileInterface interface {
	Write(p []byte) (n int, err error)
	Sync() error
	Close() error
}

// Journal 是檔案型 ResultSink
type Journal struct {
	mu           sync.Mutex    // 保護並發寫入
	file         FileInterface // journal 檔案
	encoder      *json.Encoder // JSON 編碼器
	path         string        // 檔案路徑
	seq          uint64        // 當前事件序號
	syncOnAppend bool          // 是否每次追加都強制同步
	closed       bool
	logger       *slog.Logger
	now          func() time.Time
}

var _ sink.ResultSink = (*Journal)(nil)

// Option configures a Journal.
type Option func(*Journal)

// WithSyncOnAppend toggles fsync after every append. Default true.
func WithSyncOnAppend(on bool) Option {
	return func(j *Journal) { j.syncOnAppend = on }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(j *Journal) {
		if l != nil {
			j.logger = l
		}
	}
}

// ============================================================================
// 公開介面
// ============================================================================

/*
Open 建立或開啟一個 Journal

行為：
- 如果檔案不存在，建立新檔案，seq 從 0 開始
- 如果檔案結尾有寫到一半的行（崩潰），截掉該行
- 讀取最後一個事件的 seq 並繼續
- 以追加模式（O_APPEND）開啟，確保寫入不覆蓋
*/
func Open(path string, opts ...Option) (*Journal, error) {
	j := &Journal{
		path:         path,
		syncOnAppend: true,
		logger:       slog.Default(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(j)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("wal: create dir: %w", err)
		}
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("wal: open %s: %w", path, err)
	}

	trimmed, err := trimTornTail(file)
	if err != nil {
		file.Close()
		return nil, err
	}
	if trimmed > 0 {
		j.logger.Warn("discarded torn journal tail", "path", path, "bytes", trimmed)
	}

	last, err := GetLastEvent(path)
	switch {
	case errors.Is(err, ErrEmptyWAL):
	case err != nil:
		file.Close()
		return nil, err
	default:
		j.seq = last.Seq
	}

	j.file = file
	j.encoder = json.NewEncoder(file)
	return j, nil
}

// AppendFailure records an identifier that yielded no metadata.
func (j *Journal) AppendFailure(_ context.Context, bookID string, reason types.FailureReason) error {
	return j.append(Event{Type: EventFailure, BookID: bookID, Reason: reason})
}

// AppendMetadata records a found book.
func (j *Journal) AppendMetadata(_ context.Context, record types.MetadataRecord) error {
	fields := make(map[string]string, len(record.Fields))
	for k, v := range record.Fields {
		fields[k] = v
	}
	return j.append(Event{Type: EventMetadata, BookID: record.ID, Fields: fields})
}

// append 自動遞增 seq、蓋上時間戳與校驗和後寫入
func (j *Journal) append(e Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return ErrWALClosed
	}

	e.Seq = j.seq + 1
	e.Timestamp = j.now().UnixMilli()
	e.Checksum = CalculateChecksum(e)

	if err := j.encoder.Encode(e); err != nil {
		return fmt.Errorf("wal: append seq=%d: %w", e.Seq, err)
	}
	j.seq = e.Seq

	if j.syncOnAppend {
		if err := j.file.Sync(); err != nil {
			return fmt.Errorf("%w: %v", ErrSyncFailed, err)
		}
	}
	return nil
}

// Replay 重放所有事件
//
// 行為：
// - 從頭讀取檔案
// - 驗證每個事件的 checksum
// - 呼叫 handler 應用事件
// - 遇到錯誤立即停止
func (j *Journal) Replay(handler EventHandler) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return ErrWALClosed
	}
	return replayFile(j.path, handler)
}

// LastSequenceNumber returns the highest sequence number among stored
// metadata ids of department.
func (j *Journal) LastSequenceNumber(ctx context.Context, department types.DepartmentCode) (int, bool, error) {
	var ids []string
	err := j.Replay(func(e Event) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if e.Type == EventMetadata {
			ids = append(ids, e.BookID)
		}
		return nil
	})
	if err != nil {
		return 0, false, err
	}
	seq, ok := sink.MaxSequence(department, ids)
	return seq, ok, nil
}

// LastSeq 取得當前的事件序號
func (j *Journal) LastSeq() uint64 {
	if j == nil {
		return 0
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.seq
}

// Path returns the journal file path.
func (j *Journal) Path() string { return j.path }

// Close 關閉 Journal，關閉後不可重用
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}
	j.closed = true
	if err := j.file.Sync(); err != nil {
		j.file.Close()
		return fmt.Errorf("%w: %v", ErrSyncFailed, err)
	}
	return j.file.Close()
}

// ============================================================================
// 內部輔助方法（私有）
// ============================================================================

// trimTornTail 截掉最後一個不以換行結尾的片段，回傳截掉的位元組數
func trimTornTail(f *os.File) (int64, error) {
	stat, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("wal: stat: %w", err)
	}
	size := stat.Size()
	if size == 0 {
		return 0, nil
	}

	const chunk = 4096
	buf := make([]byte, chunk)
	end := size
	for end > 0 {
		start := end - chunk
		if start < 0 {
			start = 0
		}
		n, err := f.ReadAt(buf[:end-start], start)
		if err != nil && err != io.EOF {
			return 0, fmt.Errorf("wal: read tail: %w", err)
		}
		for i := n - 1; i >= 0; i-- {
			if buf[i] == '\n' {
				keep := start + int64(i) + 1
				if keep == size {
					return 0, nil
				}
				return size - keep, truncate(f, keep)
			}
		}
		end = start
	}
	return size, truncate(f, 0)
}

func truncate(f *os.File, size int64) error {
	if err := f.Truncate(size); err != nil {
		return fmt.Errorf("wal: truncate: %w", err)
	}
	return nil
}
