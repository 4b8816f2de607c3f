package main

import (
	"github.com/pandeptwidyaop/leadflow/cmd/leadflow-server/cli"
)

func main() {
	cli.Execute()
}
