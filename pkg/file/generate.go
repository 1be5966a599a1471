package file

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/xerrors"
)

// DefaultLineLength makes every generated line 1 MiB of hex text.
const DefaultLineLength = 64 * 16384

// GenerateRandomData writes lines newline-terminated lines of random
// lowercase hex, each exactly length characters long.
func GenerateRandomData(w io.Writer, lines, length int) error {
	if lines < 0 || length <= 0 {
		return xerrors.Errorf("invalid data shape: %d lines of %d chars", lines, length)
	}
	bw := bufio.NewWriter(w)
	raw := make([]byte, (length+1)/2)
	line := make([]byte, len(raw)*2)
	for i := 0; i < lines; i++ {
		if _, err := rand.Read(raw); err != nil {
			return xerrors.Errorf("read random: %w", err)
		}
		hex.Encode(line, raw)
		if _, err := bw.Write(line[:length]); err != nil {
			return xerrors.Errorf("write line %d: %w", i, err)
		}
		if err := bw.WriteByte('\n'); err != nil {
			return xerrors.Errorf("write line %d: %w", i, err)
		}
	}
	return bw.Flush()
}

// GenerateRandomFile creates (or truncates) path and fills it with random data.
func GenerateRandomFile(path string, lines, length int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return xerrors.Errorf("create directory for %s: %v: %w", path, err, ErrStore)
	}
	f, err := os.Create(path)
	if err != nil {
		return xerrors.Errorf("create %s: %v: %w", path, err, ErrStore)
	}
	if err := GenerateRandomData(f, lines, length); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
