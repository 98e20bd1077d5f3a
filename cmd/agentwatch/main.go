package main

import (
	"context"
	"fmt"
	"os"

	"github.com/soracane/agentwatch/internal/cli"
	"github.com/soracane/agentwatch/internal/config"
)

func main() {
	cfg, err := config.LoadDefault()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	r := cli.NewRunner(cfg, os.Stdin, os.Stdout, os.Stderr)
	os.Exit(r.Run(context.Background(), os.Args[1:]))
}
