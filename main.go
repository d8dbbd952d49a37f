package main

import "github.com/ethpandaops/execution-tracer/cmd"

func main() {
	cmd.Execute()
}
