package crypto

import (
	"crypto/md5"
	"encoding/base64"
	"errors"

	"github.com/maxio/maxio/internal/maxioerr"
)

// SSECKey is a caller-supplied 256-bit key and its base64 MD5, spec.md
// §4.2 SSE-C. The server never stores the key itself -- only the MD5
// recorded in xl.meta -- so GET must be handed the same key/MD5 pair again.
type SSECKey struct {
	Key    []byte
	KeyMD5 string // base64, as supplied by the caller
}

// VerifyMD5 checks that the caller's claimed MD5 matches the actual key
// bytes, per spec.md §4.2: "server verifies MD5".
func (k SSECKey) VerifyMD5() error {
	sum := md5.Sum(k.Key)
	if base64.StdEncoding.EncodeToString(sum[:]) != k.KeyMD5 {
		return errors.New("crypto: SSE-C key MD5 mismatch")
	}
	return nil
}

// CheckSSECAccess compares a GET request's supplied key MD5 against the
// MD5 recorded at PUT time. A mismatch is AccessDenied per spec.md §4.2.
func CheckSSECAccess(storedMD5, suppliedMD5 string) error {
	if storedMD5 != suppliedMD5 {
		return maxioerr.New(maxioerr.CodeAccessDenied, "SSE-C key does not match the key used to encrypt this object")
	}
	return nil
}
