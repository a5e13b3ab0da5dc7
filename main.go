package main

import "github.com/kasuganosora/engagebot/cli"

func main() {
	cli.Execute()
}
