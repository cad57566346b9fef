// main.go
//
// Minimal entry point that delegates CLI handling to the Cobra root command in cmd/root.go

package main

import (
	"github.com/2-07665/ww-echo-policy-calculator/cmd"
)

func main() {
	cmd.Execute()
}
