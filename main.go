package main

import "github.com/momo-labs/keeper/cmd"

func main() {
	cmd.Execute()
}
