// Command onchange watches a single file or directory for modification
// activity and runs an external command once each burst of changes settles.
// It exits 0 on a graceful shutdown (SIGINT/SIGTERM) and 1 on any setup,
// poll, or command-abort failure.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "onchange: %v\n", err)
		os.Exit(1)
	}
}
