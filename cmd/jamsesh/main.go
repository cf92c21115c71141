package main

import "github.com/gregriff/jamsesh/cli/cmd"

func main() {
	cmd.Execute()
}
