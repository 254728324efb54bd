package main

import (
	"github.com/macvmio/imgprep/cmd/imgprep/cmd"
)

func main() {
	cmd.Execute(cmd.InitializeCommands())
}
