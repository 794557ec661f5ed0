package main

import "github.com/dyike/CortexConsensus/internal/cli"

func main() {
	cli.Run()
}
