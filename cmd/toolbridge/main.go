package main

import "github.com/toolbridge/toolbridge/cmd/toolbridge/cmd"

func main() {
	cmd.Execute()
}
