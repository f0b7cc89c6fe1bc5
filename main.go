package main

import "github.com/podwave/digest-api/cmd"

func main() {
	cmd.Execute()
}
