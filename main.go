package main

import "github.com/hermesworks/hermes/cmd"

func main() {
	cmd.Execute()
}
