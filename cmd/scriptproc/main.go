package main

import "github.com/nfrund/scriptproc/cmd/scriptproc/cmd"

func main() {
	cmd.Execute()
}
