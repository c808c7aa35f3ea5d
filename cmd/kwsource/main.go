package main

// ============================================================================
// 職責說明：
// 1. CLI 應用程式入口點
// 2. 初始化並執行 CLI 命令，所有邏輯在 internal/cli
// 3. SIGINT / SIGTERM 取消 context，run 命令寫入最終快照後結束
// ============================================================================

import (
	"context"
	"fmt"
	"os"
	"syscall"

	"github.com/charmbracelet/fang"

	"github.com/ChuLiYu/kw-sourcing/internal/cli"
)

var (
	version = "dev" // 由 CI 注入
	commit  = "unknown"
)

// shutdownSignals 取消 run 的 context（SIGKILL 無法被攔截）
var shutdownSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "嚴重錯誤: %v\n", r)
			os.Exit(1)
		}
	}()

	cli.Version = version
	root := cli.BuildCLI()

	if err := fang.Execute(
		context.Background(),
		root,
		fang.WithVersion(fmt.Sprintf("%s (commit: %s)", version, commit)),
		fang.WithNotifySignal(shutdownSignals...),
	); err != nil {
		os.Exit(1)
	}
}

/*
# 編譯時注入版本
go build -ldflags "-X main.version=1.0.0 -X main.commit=$(git rev-parse HEAD)" -o bin/kwsource ./cmd/kwsource
*/
