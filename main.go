package main

import "github.com/jmehdipour/event-relay/cmd"

func main() {
	cmd.Execute()
}
