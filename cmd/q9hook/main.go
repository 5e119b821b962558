package main

import (
	"fmt"
	"os"

	"github.com/filipyuen/Q9CP/internal/cmd"
)

func main() {
	root := cmd.NewRootCommand()
	if err := root.Execute(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "q9hook: %v\n", err)
		os.Exit(cmd.ExitCode(err))
	}
}
