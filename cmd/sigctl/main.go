package main

import (
	"fmt"
	"os"

	sigctlcmd "github.com/telekom/signature-relay/pkg/sigctl/cmd"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	root := sigctlcmd.NewRootCommand(sigctlcmd.DefaultConfig())
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}
