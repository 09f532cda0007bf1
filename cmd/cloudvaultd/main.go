// Command cloudvaultd is the operational CLI for the cloudvault storage
// core: bucket bootstrap, usage reconciliation, archive jobs started
// through the facade and polled to completion, and antivirus scans,
// independent of whatever transport (HTTP, gRPC, ...) ends up
// embedding the facade package in a given deployment — that transport layer
// is out of scope here, the way kopia's own repository/content/snapshot
// plumbing is driven by a CLI rather than a server binary. Mirrors kopia's
// cli package: one kingpin.Application, one command_*.go file per verb.
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kingpin/v2"
	"github.com/fatih/color"
	colorable "github.com/mattn/go-colorable"
	isatty "github.com/mattn/go-isatty"
)

func main() {
	if !isatty.IsTerminal(os.Stdout.Fd()) {
		color.NoColor = true
	}

	out := colorable.NewColorableStdout()

	kp := kingpin.New("cloudvaultd", "Operational CLI for the cloudvault storage core")

	a := newApp(out)
	a.setup(kp)

	kingpin.MustParse(kp.Parse(os.Args[1:]))
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
