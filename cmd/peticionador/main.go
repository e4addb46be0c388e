package main

import "github.com/forolabs/peticionador/cmd/peticionador/cmd"

func main() {
	cmd.Execute()
}
