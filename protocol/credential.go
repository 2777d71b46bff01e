package protocol

import "golang.org/x/crypto/blake2b"

// DigestCredential derives the token sent in place of a raw password. The
// server performs the same derivation over its stored secret; transport
// encryption beyond this digest is delegated to the surrounding stack.
func DigestCredential(password string) []byte {
	if password == "" {
		return nil
	}
	sum := blake2b.Sum256([]byte(password))
	return sum[:]
}
