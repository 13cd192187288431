package main

import "wind-curtailment-monitor/internal/cli"

func main() {
	cli.Execute()
}
