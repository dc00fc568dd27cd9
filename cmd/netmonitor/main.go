package main

import "os"

// main 是命令行入口
func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
