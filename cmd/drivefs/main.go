// Command drivefs mounts a Databricks workspace (or any compatible remote
// object store) as a local POSIX filesystem via FUSE.
package main

import (
	"errors"
	"fmt"
	"os"
)

// version/commit/date are overridden at build time via -ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	err := run(os.Args, defaultDeps())
	if err == nil {
		return
	}

	var cerr *cliError
	if errors.As(err, &cerr) {
		if !cerr.printed && cerr.msg != "" {
			fmt.Fprintln(os.Stderr, cerr.msg)
		}
		os.Exit(cerr.exitCode)
	}
	fmt.Fprintln(os.Stderr, err.Error())
	os.Exit(1)
}
