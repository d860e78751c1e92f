// cmd/kiosk — 展台主入口: 浏览器视图 (run) 或终端视图 (tui)。
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
