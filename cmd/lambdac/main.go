package main

import "github.com/vida-lang/lambdac/cli"

func main() {
	cli.Lambdac()
}
