package main

import "github.com/oshokin/sos-guard/cmd/sos-ctl/cmd"

func main() {
	cmd.Execute()
}
