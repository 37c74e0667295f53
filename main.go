package main

import "github.com/jmehdipour/oob-signer/cmd"

func main() {
	cmd.Execute()
}
