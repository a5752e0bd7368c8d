package main

import (
	"gaugewatch/internal/cli"
)

func main() {
	cli.Execute()
}
