// Command quotectl checks pricing rule files and prices requests offline
// with the same engine the service uses.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
