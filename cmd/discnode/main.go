// Package main provides discnode, a standalone discovery node.
//
// Usage:
//
//	discnode keygen
//	discnode run --config discnode.yaml --bootnode <id>@host:port
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
