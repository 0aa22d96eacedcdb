// Package main is the entry point for the symsync application
package main

import (
	"github.com/quantpulse/symsync/cmd"
)

func main() {
	cmd.Execute()
}
