package main

import (
	"log/slog"
	"os"

	"github.com/fdkevin0/qzlogin/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		slog.Error("执行失败", "error", err)
		os.Exit(1)
	}
}
