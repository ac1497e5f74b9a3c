package main

import "github.com/chriserin/ftsync/cmd"

func main() {
	cmd.Execute()
}
