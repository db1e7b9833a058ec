package main

import (
	"fmt"
	"os"
)

// 构建时通过 -ldflags "-X main.version=..." 注入
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "marketplace-proxy: %v\n", err)
		os.Exit(1)
	}
}
