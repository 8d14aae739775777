package main

import "github.com/kozaktomas/familiar-faces/cmd"

func main() {
	cmd.Execute()
}
