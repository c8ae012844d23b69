package main

import "github.com/krdpgfx/core/cmd/krdpgfx-demo/cmd"

func main() {
	cmd.Execute()
}
