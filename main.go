// The main package for the dircrawler executable.
package main

import (
	"github.com/openbizdata/dircrawler/cmd"
)

func main() {
	cmd.Execute()
}
