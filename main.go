package main

import "github.com/labhub/uploadq/cmd"

func main() {
	cmd.Execute()
}
