package core

// reader.go turns an uploaded file into text ready for parsing.
//
// Files from spreadsheet tools commonly carry a UTF-8 BOM, stray invalid
// bytes, or a legacy Windows code page. The decode chain handles all three:
//
//   - A leading BOM (UTF-8 or UTF-16) is detected and stripped, overriding
//     the configured encoding.
//   - UTF-8 input has invalid sequences replaced with U+FFFD.
//   - windows-1252 and latin1 input is transcoded to UTF-8.
//
// The size limit applies to raw bytes, before decoding.

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// DefaultMaxFileSize is used when ReadOptions.MaxSize is not set (20MB).
const DefaultMaxFileSize int64 = 20 << 20

// ReadOptions controls ReadContent.
type ReadOptions struct {
	MaxSize  int64  // raw byte limit; <= 0 uses DefaultMaxFileSize
	Encoding string // utf-8 (default), windows-1252, latin1
}

// ReadContent reads r fully and returns its decoded text. It fails with
// ErrFileTooLarge when r holds more than opts.MaxSize bytes.
func ReadContent(r io.Reader, opts ReadOptions) (string, error) {
	maxSize := opts.MaxSize
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}

	dec, err := decoderFor(opts.Encoding)
	if err != nil {
		return "", err
	}

	counter := &countingReader{r: io.LimitReader(r, maxSize+1)}
	data, err := io.ReadAll(transform.NewReader(counter, unicode.BOMOverride(dec)))
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	if counter.n > maxSize {
		return "", fmt.Errorf("%w: exceeds %d bytes", ErrFileTooLarge, maxSize)
	}

	return string(data), nil
}

func decoderFor(name string) (transform.Transformer, error) {
	var enc encoding.Encoding
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "utf-8", "utf8":
		enc = unicode.UTF8
	case "windows-1252", "cp1252":
		enc = charmap.Windows1252
	case "latin1", "iso-8859-1":
		enc = charmap.ISO8859_1
	default:
		return nil, fmt.Errorf("encoding error: unsupported encoding %q", name)
	}
	return enc.NewDecoder(), nil
}

// countingReader tracks raw bytes read so the size check ignores the
// expansion caused by decoding.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
