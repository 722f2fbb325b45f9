package ingest

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// VerifySignature checks that a webhook batch was signed with the
// project's signing key. The header carries `t=<timestamp>&s=<signature>`
// (ampersand- or comma-delimited). The signature is an HMAC-SHA256 over
// the timestamp concatenated with the raw body; older senders inserted a
// literal "." between the two, so both digests are accepted.
//
// Verification is deliberately permissive when either side has not opted
// in: no signing key or no header means the batch passes. A present but
// unparsable or mismatched header fails.
func VerifySignature(signingKey string, rawBody []byte, header string) bool {
	if signingKey == "" || header == "" {
		return true
	}

	timestamp, signature, ok := parseSignatureHeader(header)
	if !ok {
		return false
	}

	candidates := []string{
		timestamp + string(rawBody),
		timestamp + "." + string(rawBody),
	}

	for _, candidate := range candidates {
		mac := hmac.New(sha256.New, []byte(signingKey))
		mac.Write([]byte(candidate))
		expected := hex.EncodeToString(mac.Sum(nil))
		if hmac.Equal([]byte(expected), []byte(signature)) {
			return true
		}
	}

	return false
}

// parseSignatureHeader extracts the t= and s= parts from the header.
func parseSignatureHeader(header string) (timestamp, signature string, ok bool) {
	sep := ","
	if strings.Contains(header, "&") {
		sep = "&"
	}

	for _, part := range strings.Split(header, sep) {
		part = strings.TrimSpace(part)
		switch {
		case strings.HasPrefix(part, "t="):
			timestamp = part[len("t="):]
		case strings.HasPrefix(part, "s="):
			signature = part[len("s="):]
		}
	}

	return timestamp, signature, timestamp != "" && signature != ""
}
