package main

import "github.com/angelfsepulveda/customchatfree/internal/cli"

func main() {
	cli.Execute()
}
