// Package main is the speech command.
package main

import "github.com/mesh-intelligence/speech/internal/cli"

func main() {
	cli.Execute()
}
