package main

import (
	"log"

	"ticket-inventory/cmd"
)

func main() {
	if err := cmd.Start(); err != nil {
		log.Fatal(err)
	}
}
