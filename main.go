package main

import (
	"fmt"

	"github.com/mosaic-run/meshrt/cmd"
)

func main() {
	if err := cmd.Run(); err != nil {
		fmt.Println(err.Error())
		return
	}
}
