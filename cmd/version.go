package main

import (
	"fmt"
	"runtime"
)

// Version is set at build time via -ldflags "-X main.Version=...".
var Version = "v0.1.0"

// PrintVersion prints version information.
func PrintVersion() {
	fmt.Printf("streamchat %s (%s/%s, %s)\n", Version, runtime.GOOS, runtime.GOARCH, runtime.Version())
}
