package main

import "qdag/cmd"

func main() {
	cmd.Execute()
}
