package web

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/subimport/internal/core"
)

// multipartMemory is how much of an upload is buffered in memory before
// spilling to a temp file.
const multipartMemory = 8 << 20

// multipartOverhead is allowed on top of the file size limit for form
// boundaries and other fields.
const multipartOverhead = 1 << 20

func sessionID(r *http.Request) string {
	return chi.URLParam(r, "sessionID")
}

// parseSeparator resolves the separator form value; empty selects
// detection.
func parseSeparator(v string) (rune, error) {
	sep, err := core.ParseSeparatorName(v)
	if err != nil {
		return 0, badRequest(err,
			"Unsupported separator", `Use "comma", "semicolon" or "tab", or leave it empty to detect`)
	}
	return sep, nil
}

// parseBoolParam treats a missing or unparsable value as false.
func parseBoolParam(v string) bool {
	b, err := strconv.ParseBool(v)
	return err == nil && b
}
