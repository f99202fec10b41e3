package main

import "github.com/alexdivadi/faceblur/cmd"

func main() {
	cmd.Execute()
}
