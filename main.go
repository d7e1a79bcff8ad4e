package main

import (
	"ema-cross-alerts/internal/cli"
)

func main() {
	cli.Execute()
}
