package cache

import (
	"net/url"
	"strings"

	"github.com/cespare/xxhash/v2"
)

var separator = []byte{0}

// Signature identifies a request for caching and deduplication. Query keys are
// sorted, so parameter order does not matter.
func Signature(method, path string, query url.Values, body []byte) uint64 {
	digest := xxhash.New()

	_, _ = digest.WriteString(strings.ToUpper(method))
	_, _ = digest.Write(separator)
	_, _ = digest.WriteString(path)
	_, _ = digest.Write(separator)
	_, _ = digest.WriteString(query.Encode())
	_, _ = digest.Write(separator)
	_, _ = digest.Write(body)

	return digest.Sum64()
}
