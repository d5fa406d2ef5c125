package main

import (
	"fmt"
	"io"
	"os"
)

// 版本資訊，發佈時以 -ldflags "-X main.Version=..." 覆寫
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	os.Exit(exitCode(Execute(), os.Stderr))
}

// exitCode 將命令錯誤寫到 w 並轉成行程結束碼
func exitCode(err error, w io.Writer) int {
	if err == nil {
		return 0
	}
	fmt.Fprintf(w, "%s: %v\n", rootCmd.Name(), err)
	return 1
}
