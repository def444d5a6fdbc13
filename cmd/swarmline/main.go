// Copyright (c) 2025 Swarmline Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package main

import (
	"os"

	"swarmline/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
