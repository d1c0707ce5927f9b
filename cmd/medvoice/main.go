package main

import (
	"medvoice/cmd/medvoice/cmd"
)

func main() {
	cmd.Execute()
}
