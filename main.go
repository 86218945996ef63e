package main

import (
	"github.com/pricewatch/pricewatch/cmd"
)

func main() {
	cmd.Execute()
}
