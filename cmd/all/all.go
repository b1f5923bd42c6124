// Package all imports all the commands
package all

import (
	// Active commands
	_ "github.com/ddrive/ddrive/cmd"
	_ "github.com/ddrive/ddrive/cmd/addaccount"
	_ "github.com/ddrive/ddrive/cmd/delete"
	_ "github.com/ddrive/ddrive/cmd/download"
	_ "github.com/ddrive/ddrive/cmd/listaccounts"
	_ "github.com/ddrive/ddrive/cmd/listfiles"
	_ "github.com/ddrive/ddrive/cmd/shell"
	_ "github.com/ddrive/ddrive/cmd/upload"
	_ "github.com/ddrive/ddrive/cmd/version"
)
