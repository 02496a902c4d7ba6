package main

import (
	"github.com/calmecac/wabridge/cmd"
)

func main() {
	cmd.Execute()
}
