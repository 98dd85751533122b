package manifest_test

import (
	"io"
	"log/slog"
)

var discardHandler = slog.NewTextHandler(io.Discard, nil)
