package main

import "barscan/internal/cli"

func main() {
	cli.Execute()
}
