package main

import "github.com/corpusgraph/weaver/cmd"

func main() {
	cmd.Execute()
}
