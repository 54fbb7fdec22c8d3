package wsframe

import "crypto/rand"

// newMaskKey is a var so tests can substitute a deterministic key.
var newMaskKey = func() [4]byte {
	var key [4]byte
	_, _ = rand.Read(key[:])
	return key
}
