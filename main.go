package main

import "github.com/fakeyudi/learntrace/cmd"

func main() {
	cmd.Execute()
}
