package webhook

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"hash"
	"strings"
)

func newMAC(algo SignatureAlgorithm, secret string) hash.Hash {
	switch algo {
	case AlgoSHA1:
		return hmac.New(sha1.New, []byte(secret))
	case AlgoSHA512:
		return hmac.New(sha512.New, []byte(secret))
	default:
		return hmac.New(sha256.New, []byte(secret))
	}
}

func algoSuffix(algo SignatureAlgorithm) string {
	switch algo {
	case AlgoSHA1:
		return "1"
	case AlgoSHA512:
		return "512"
	default:
		return "256"
	}
}

// verifySignature computes HMAC(secret, body, algo) and compares it against
// received using constant-time comparison. If received looks like a
// "sha<n>=<hex>" value it is compared against the hex encoding with that
// prefix; otherwise it is compared against the raw base64 encoding of the
// MAC.
func verifySignature(algo SignatureAlgorithm, secret string, body []byte, received string) bool {
	mac := newMAC(algo, secret)
	mac.Write(body)
	sum := mac.Sum(nil)

	if strings.HasPrefix(received, "sha") {
		want := "sha" + algoSuffix(algo) + "=" + hex.EncodeToString(sum)
		return subtle.ConstantTimeCompare([]byte(received), []byte(want)) == 1
	}
	want := base64.StdEncoding.EncodeToString(sum)
	return subtle.ConstantTimeCompare([]byte(received), []byte(want)) == 1
}

// canonicalBody renders body as its JSON serialization for signing, or the
// empty string if body is absent.
func canonicalBody(body []byte) []byte {
	if len(body) == 0 {
		return []byte{}
	}
	return body
}
