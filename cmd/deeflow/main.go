package main

import (
	"context"
	"fmt"
	"os"

	"github.com/YoshitsuguKoike/deeflow/internal/adapter/controller/cli"
	"github.com/YoshitsuguKoike/deeflow/internal/infrastructure/di"
)

// Set with -ldflags "-X main.version=... -X main.buildInfo=..."
var (
	version   = "dev"
	buildInfo = ""
)

func main() {
	builder := cli.NewRootBuilder(di.Bootstrap, version, buildInfo)
	err := builder.Build().ExecuteContext(context.Background())
	if cerr := builder.Close(); cerr != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", cerr)
	}
	if err != nil {
		os.Exit(1)
	}
}
