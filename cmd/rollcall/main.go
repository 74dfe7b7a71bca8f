package main

import (
	"log"
	_ "time/tzdata"

	"rollcall/cmd/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		log.Fatal(err)
	}
}
