package main

import "github.com/kozaktomas/photo-consent/cmd"

func main() {
	cmd.Execute()
}
