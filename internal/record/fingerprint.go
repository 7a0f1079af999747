package record

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
)

// Fingerprint computes the content fingerprint of a data map: the hex MD5 of
// the lowercased, whitespace-normalized serialized data. Used by the executor
// to deduplicate results across structured and vector streams.
func Fingerprint(d Data) string {
	raw, err := d.Encode()
	if err != nil {
		// Encode only fails on unknown kinds; fall back to an empty payload
		// so dedup still behaves deterministically.
		raw = []byte("{}")
	}

	normalized := strings.Join(strings.Fields(strings.ToLower(string(raw))), " ")
	sum := md5.Sum([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
