package main

import "faceserver/cmd"

func main() {
	cmd.Execute()
}
