// Package bytesutil normalizes the handful of wire encodings event payloads
// and API requests arrive in: raw bytes, 0x-prefixed hex, or base64.
package bytesutil

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// ToBytes normalizes a dynamically-typed field into bytes.
//
// Per spec: if input is already []byte, use as-is; if it's a 0x-prefixed
// string, parse as hex; otherwise try base64 then hex.
func ToBytes(v any) ([]byte, error) {
	switch t := v.(type) {
	case []byte:
		return t, nil
	case nil:
		return nil, fmt.Errorf("bytesutil: nil value")
	case string:
		return stringToBytes(t)
	default:
		return nil, fmt.Errorf("bytesutil: unsupported type %T", v)
	}
}

func stringToBytes(s string) ([]byte, error) {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return hex.DecodeString(s[2:])
	}
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	if b, err := hex.DecodeString(s); err == nil {
		return b, nil
	}
	return nil, fmt.Errorf("bytesutil: %q is neither hex nor base64", s)
}

// StripHexPrefix returns s without a leading 0x/0X, if present.
func StripHexPrefix(s string) string {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return s[2:]
	}
	return s
}

// WithHexPrefix returns b encoded as a 0x-prefixed hex string.
func WithHexPrefix(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}
