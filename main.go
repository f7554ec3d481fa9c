package main

import (
	"os"

	"github.com/vrsandeep/citefetch/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
