package main

import "wallet-safety/cmd/guardctl/cmd"

func main() {
	cmd.Execute()
}
