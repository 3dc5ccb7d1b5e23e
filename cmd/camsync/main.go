package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/wildgrid/camsync/internal/app"
	"github.com/wildgrid/camsync/internal/config"
)

func usage() {
	fmt.Fprintln(os.Stderr, "usage: camsync <sync|collections|query|stats|species|locations|put-config|seal-secret> [flags]")
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}
	command := os.Args[1]

	if command == "seal-secret" {
		if err := app.SealSecret(); err != nil {
			log.Fatalf("%v", err)
		}
		return
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("%v", err)
	}

	ctx, cancel := app.SignalContext(context.Background())
	defer cancel()

	a, err := app.NewApp(ctx, cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer a.Close()

	if err := a.Run(ctx, command, os.Args[2:]); err != nil {
		log.Fatalf("%v", err)
	}
}
