// Copyright 2026 The election Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jothanjoseph26-ctrl/election/internal/cli"
)

func main() {
	rootCmd := cli.NewRootCmd(os.Stdout, os.Stderr)
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
