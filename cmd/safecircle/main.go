package main

import "SafeCircle/cmd/safecircle/commands"

func main() {
	commands.Execute()
}
