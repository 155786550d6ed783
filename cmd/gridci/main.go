package main

import "github.com/petrijr/gridci/internal/cli"

func main() {
	cli.Execute()
}
