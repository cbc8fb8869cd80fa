// The main package for the epirunner executable.
package main

import (
	"github.com/epiworldlab/epirunner/cmd"
)

func main() {
	cmd.Execute()
}
