package main

import "mindmap/cmd/mindmap-cli/cmd"

func main() {
	cmd.Execute()
}
