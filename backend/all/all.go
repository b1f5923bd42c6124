// Package all imports all the backends
package all

import (
	// Active account types
	_ "github.com/ddrive/ddrive/backend/drive"
	_ "github.com/ddrive/ddrive/backend/dropbox"
	_ "github.com/ddrive/ddrive/backend/local"
	_ "github.com/ddrive/ddrive/backend/s3"
)
