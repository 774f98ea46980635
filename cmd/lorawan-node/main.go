package main

import "github.com/thingpilot/lorawan-node/cmd/lorawan-node/cmd"

var version string // set by the compiler

func main() {
	cmd.Execute(version)
}
