package main

import (
	"fmt"
	"os"

	"github.com/Eric-Song-Nop/agentwatch/cmd"
)

// Version set via ldflags
var version = "dev"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "--version" {
		fmt.Printf("agentwatch %s\n", version)
		os.Exit(0)
	}

	cmd.Execute()
}
