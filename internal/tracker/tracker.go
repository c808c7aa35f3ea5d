// ============================================================================
// 部門進度追蹤器 - 部門狀態機實現
// ============================================================================
//
// Package: internal/tracker
// 文件: tracker.go
// 功能: 追蹤本次執行中每個部門的生命週期、游標位置與結果計數
//
// 部門狀態轉換 (State Machine):
//   Pending (待處理)
//      ↓ DepartmentStarted()
//   InFlight (掃描中)  ←─ ObserveOutcome() 更新 cursor 與 counts
//      ↓ DepartmentFinished()
//   Completed (已完成) / Abandoned (已放棄)
//
//   ctx 取消時的中斷部門維持 InFlight，cursor 保留在快照中。
//
// 並發安全:
//   - 所有 worker 同時回報，使用 sync.RWMutex 保護
//   - Snapshot() 回傳深拷貝，呼叫者可自由序列化
//
// ============================================================================

package tracker

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ChuLiYu/kw-sourcing/internal/worker"
	"github.com/ChuLiYu/kw-sourcing/pkg/types"
)

// SchemaVer is the version written into every ProgressSnapshot.
const SchemaVer = 1

// ============================================================================
// 錯誤定義
// ============================================================================

var (
	// ErrDepartmentNotFound 部門不存在
	ErrDepartmentNotFound = errors.New("department not found")
	// ErrSchemaVersion 快照版本不符
	ErrSchemaVersion = errors.New("unsupported progress snapshot schema")
)

// Tracker 代表部門進度追蹤器
type Tracker struct {
	mu          sync.RWMutex
	runID       string
	departments map[types.DepartmentCode]*types.DepartmentProgress
	now         func() time.Time
}

// New 建立新的追蹤器
func New(runID string) *Tracker {
	return &Tracker{
		runID:       runID,
		departments: make(map[types.DepartmentCode]*types.DepartmentProgress),
		now:         time.Now,
	}
}

// RunID returns the run this tracker belongs to.
func (t *Tracker) RunID() string { return t.runID }

// Register 登記待處理部門
// 重複的代碼會被略過（同一部門可排入佇列多次）；任何無效代碼都不會登記
func (t *Tracker) Register(codes ...types.DepartmentCode) error {
	for _, code := range codes {
		if err := code.Validate(); err != nil {
			return fmt.Errorf("register %q: %w", code, err)
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now().UnixMilli()
	for _, code := range codes {
		if _, exists := t.departments[code]; exists {
			continue
		}
		t.departments[code] = &types.DepartmentProgress{
			Code:      code,
			Status:    types.StatusPending,
			WorkerID:  -1,
			Counts:    make(map[types.OutcomeKind]int),
			CreatedAt: now,
			UpdatedAt: now,
		}
	}
	return nil
}

// lookup 取得或建立部門（佇列可能由其他程序預先填入）
func (t *Tracker) lookup(code types.DepartmentCode) *types.DepartmentProgress {
	p, ok := t.departments[code]
	if !ok {
		now := t.now().UnixMilli()
		p = &types.DepartmentProgress{
			Code:      code,
			Status:    types.StatusPending,
			WorkerID:  -1,
			Counts:    make(map[types.OutcomeKind]int),
			CreatedAt: now,
			UpdatedAt: now,
		}
		t.departments[code] = p
	}
	return p
}

// ============================================================================
// worker.Reporter / scanner.Observer
// ============================================================================

// DepartmentStarted marks the department in flight on workerID.
func (t *Tracker) DepartmentStarted(workerID int, code types.DepartmentCode) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := t.lookup(code)
	p.Status = types.StatusInFlight
	p.WorkerID = workerID
	p.Error = ""
	p.UpdatedAt = t.now().UnixMilli()
}

// DepartmentFinished records the terminal state of a department.
func (t *Tracker) DepartmentFinished(r worker.Result) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := t.lookup(r.Department)
	switch {
	case r.Interrupted:
		// 保持 InFlight，cursor 留待下次參考
	case r.Err != nil:
		p.Status = types.StatusAbandoned
		p.Error = r.Err.Error()
	default:
		p.Status = types.StatusCompleted
	}
	p.UpdatedAt = t.now().UnixMilli()
}

// ObserveOutcome counts one classified identifier and moves the cursor.
func (t *Tracker) ObserveOutcome(o types.Outcome, position int, _ time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := t.lookup(o.ID.Department)
	p.Counts[o.Kind]++
	p.Cursor = position
	p.UpdatedAt = t.now().UnixMilli()
}

// ============================================================================
// 查詢
// ============================================================================

// Get 取得單一部門進度的拷貝
func (t *Tracker) Get(code types.DepartmentCode) (types.DepartmentProgress, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	p, ok := t.departments[code]
	if !ok {
		return types.DepartmentProgress{}, ErrDepartmentNotFound
	}
	return clone(p), nil
}

// List 依狀態列出部門，status 為空字串時列出全部，依代碼排序
func (t *Tracker) List(status types.DepartmentStatus) []types.DepartmentProgress {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]types.DepartmentProgress, 0, len(t.departments))
	for _, p := range t.departments {
		if status == "" || p.Status == status {
			out = append(out, clone(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// StatusCounts 回傳各狀態的部門數量
func (t *Tracker) StatusCounts() map[types.DepartmentStatus]int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	counts := make(map[types.DepartmentStatus]int)
	for _, p := range t.departments {
		counts[p.Status]++
	}
	return counts
}

// Done 所有登記部門都已到達終止狀態
func (t *Tracker) Done() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, p := range t.departments {
		if p.Status != types.StatusCompleted && p.Status != types.StatusAbandoned {
			return false
		}
	}
	return true
}

// ============================================================================
// 快照支持
// ============================================================================

// Snapshot 序列化目前所有部門狀態（深拷貝）
func (t *Tracker) Snapshot() types.ProgressSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	snap := types.ProgressSnapshot{
		RunID:       t.runID,
		Departments: make(map[types.DepartmentCode]*types.DepartmentProgress, len(t.departments)),
		SchemaVer:   SchemaVer,
		TakenAt:     t.now().UnixMilli(),
	}
	for code, p := range t.departments {
		c := clone(p)
		snap.Departments[code] = &c
	}
	return snap
}

// Restore 從快照恢復狀態，覆蓋目前內容
func (t *Tracker) Restore(snap types.ProgressSnapshot) error {
	if snap.SchemaVer != SchemaVer {
		return ErrSchemaVersion
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.runID = snap.RunID
	t.departments = make(map[types.DepartmentCode]*types.DepartmentProgress, len(snap.Departments))
	for code, p := range snap.Departments {
		if p == nil {
			continue
		}
		c := clone(p)
		t.departments[code] = &c
	}
	return nil
}

func clone(p *types.DepartmentProgress) types.DepartmentProgress {
	c := *p
	c.Counts = make(map[types.OutcomeKind]int, len(p.Counts))
	for k, v := range p.Counts {
		c.Counts[k] = v
	}
	return c
}
