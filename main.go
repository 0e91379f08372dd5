package main

import "github.com/traitdex/traitdex/cmd"

func main() {
	cmd.Execute()
}
