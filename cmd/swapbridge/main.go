// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"os"

	"github.com/luxfi/swapbridge/cli"
)

func main() {
	os.Exit(cli.Execute())
}
