package main

import "github.com/trobanga/oaiharvest/cmd"

func main() {
	cmd.Execute()
}
