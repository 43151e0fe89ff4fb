package export

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/rzbill/evtap/internal/export/sink"
)

// ScopeID derives a stable cursor scope from the entity and the settings
// that shape the output. Changing the destination format, layout, or filter
// yields a fresh scope, so a reconfigured export starts from the beginning
// instead of silently skipping records the new configuration never wrote.
func ScopeID(entity string, opts sink.Options, substrings []string, celExpr string) string {
	terms := append([]string(nil), substrings...)
	for i := range terms {
		terms[i] = strings.ToLower(strings.TrimSpace(terms[i]))
	}
	sort.Strings(terms)

	h := sha256.New()
	for _, part := range []string{
		entity,
		string(opts.Format),
		modeTag(opts.Mode),
		metaTag(opts.IncludeMetadata),
		strings.Join(terms, "\x00"),
		celExpr,
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return entity + "-" + hex.EncodeToString(h.Sum(nil))[:12]
}

func modeTag(m sink.Mode) string {
	if m == sink.ModePerMessage {
		return "per-message"
	}
	return "condensed"
}

func metaTag(include bool) string {
	if include {
		return "with-metadata"
	}
	return "content-only"
}
