package main

import "github.com/vnatgroup/wabridge/cmd"

func main() {
	cmd.Execute()
}
