package main

import "github.com/oshokin/sos-guard/cmd/sos-guard/cmd"

func main() {
	cmd.Execute()
}
