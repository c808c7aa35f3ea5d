package worker

import (
	"io"
	"time"

	"github.com/ChuLiYu/kw-sourcing/internal/scanner"
	"github.com/ChuLiYu/kw-sourcing/pkg/types"
)

// Session 是 worker 專屬的紀錄來源連線，結束時必須關閉
type Session interface {
	scanner.RecordSession
	io.Closer
}

// Result 代表一個部門的掃描結果
type Result struct {
	WorkerID    int                  // 執行的 worker
	Department  types.DepartmentCode // 部門代碼
	Err         error                // 非 nil 表示部門被放棄（含 panic）
	Panicked    bool                 // scan 是否 panic
	Interrupted bool                 // 因 ctx 取消而中斷，部門可續掃
	Duration    time.Duration        // 實際執行時間
}

// Abandoned reports whether the department was given up for this run.
func (r Result) Abandoned() bool { return r.Err != nil && !r.Interrupted }
