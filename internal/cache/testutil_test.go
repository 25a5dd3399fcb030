package cache

import (
	"io"
	"log/slog"
	"os"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeFileForTest(path string, data []byte) error {
	return os.WriteFile(path, data, 0o644)
}
