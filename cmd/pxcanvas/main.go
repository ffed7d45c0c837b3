package main

import "github.com/mcoot/pxcanvas/internal/cli"

func main() {
	cli.Execute()
}
