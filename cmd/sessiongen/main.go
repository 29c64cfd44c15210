package main

import (
	"log"

	corecmd "github.com/m3rciful/sessiongen/core/cmd"
	"github.com/m3rciful/sessiongen/internal/app"
)

func main() {
	if err := corecmd.Run(corecmd.Options{
		ConfigEnvVar: "CONFIG_PATH",
		Bootstrap:    app.Bootstrap,
	}); err != nil {
		log.Fatalf("sessiongen: %v", err)
	}
}
