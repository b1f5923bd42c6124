// Spread files over many storage accounts
package main

import (
	_ "github.com/ddrive/ddrive/backend/all" // import all backends
	"github.com/ddrive/ddrive/cmd"
	_ "github.com/ddrive/ddrive/cmd/all" // import all commands
)

func main() {
	cmd.Main()
}
