package main

import "github.com/muchq/deepbridge/cmd"

func main() {
	cmd.Execute()
}
