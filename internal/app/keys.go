package app

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
)

// DecodeKey decodes a configured key to raw bytes. Hex is tried first since
// generated runtime defaults use hex, then standard and raw base64. Input
// that matches no encoding is used as raw bytes, so plain passphrases work.
func DecodeKey(value string) ([]byte, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return nil, errors.New("key value is empty")
	}

	if len(v)%2 == 0 {
		if decoded, err := hex.DecodeString(v); err == nil {
			return decoded, nil
		}
	}
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding} {
		if decoded, err := enc.DecodeString(v); err == nil {
			return decoded, nil
		}
	}
	return []byte(v), nil
}
