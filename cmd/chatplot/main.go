package main

import (
	"fmt"
	"os"
)

// version 由构建参数 -ldflags "-X main.version=..." 设置
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
