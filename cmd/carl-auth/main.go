// Command carl-auth exercises the control plane's identity provider
// integration from the command line: fetching tokens, registering and
// deleting peer clients and checking the provider's discovery document.
package main

import (
	"os"
)

// version can be set during build with -ldflags
var version = "dev"

func main() {
	root := newRootCmd()
	root.Version = version
	if err := root.Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}
