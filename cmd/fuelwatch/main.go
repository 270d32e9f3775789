package main

import (
	_ "time/tzdata"

	"fuel-price-alerts/internal/cli"
)

func main() {
	cli.Execute()
}
