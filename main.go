package main

import "github.com/itsmostafa/pageindex/cmd"

func main() {
	cmd.Execute()
}
