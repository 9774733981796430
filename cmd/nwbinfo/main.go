package main

import (
	"os"

	"github.com/scigolib/nwbinfo/internal/cli"
)

// Set via -ldflags "-X main.version=... -X main.commit=... -X main.date=...".
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	os.Exit(cli.Execute(cli.Version{Version: version, Commit: commit, Date: date}))
}
