// Command cutburn records daily cut/burn progress locally and syncs it to a
// remote store whenever the remote is reachable.
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
