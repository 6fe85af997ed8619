package main

import (
	"os"

	bulkmailcmd "github.com/telekom/bulkmail/pkg/cmd"
)

func main() {
	root := bulkmailcmd.NewRootCommand(bulkmailcmd.DefaultConfig())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
