package main

import "github.com/nextlevelbuilder/aichan/cmd"

func main() {
	cmd.Execute()
}
