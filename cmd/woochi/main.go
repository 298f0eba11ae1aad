// Package main provides the entry point for the woochi CLI.
package main

import (
	"os"

	"github.com/Aman-CERP/woochi/cmd/woochi/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
