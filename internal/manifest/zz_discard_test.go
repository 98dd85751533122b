package manifest

import (
	"io"
	"log/slog"
)

var discardHandler = slog.NewTextHandler(io.Discard, nil)
