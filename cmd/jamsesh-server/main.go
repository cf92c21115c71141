package main

import "github.com/gregriff/jamsesh/server/cmd"

func main() {
	cmd.Execute()
}
