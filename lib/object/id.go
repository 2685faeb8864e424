// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package object

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// IDLength is the length of an [ID] in hex characters.
const IDLength = 64

// ID is the content hash identifying a record: 64 lowercase hex
// characters encoding a 32-byte BLAKE3 keyed digest of the record
// payload.
type ID string

// recordDomainKey is the BLAKE3 key for payload hashing. Changing it
// invalidates every stored id. The bytes are the ASCII domain name
// zero-padded to 32 bytes so the key is readable in hex dumps.
var recordDomainKey = [32]byte{
	'o', 'b', 'j', 'e', 'c', 't', 'g', 'r', 'a', 'p', 'h', '.',
	'r', 'e', 'c', 'o', 'r', 'd',
}

// HashPayload computes the record id for a canonical payload.
func HashPayload(payload []byte) ID {
	// NewKeyed only fails for a key that is not 32 bytes, which the
	// array type rules out.
	hasher, err := blake3.NewKeyed(recordDomainKey[:])
	if err != nil {
		panic("object: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(payload)
	var digest [32]byte
	copy(digest[:], hasher.Sum(nil))
	return ID(hex.EncodeToString(digest[:]))
}

// ParseID validates a string as a record id. Uppercase hex is
// rejected rather than folded: ids are compared as strings everywhere,
// so accepting two spellings of one id would break deduplication.
func ParseID(value string) (ID, error) {
	if len(value) != IDLength {
		return "", fmt.Errorf("object id %q is %d characters, want %d", value, len(value), IDLength)
	}
	for i := 0; i < len(value); i++ {
		c := value[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return "", fmt.Errorf("object id %q: invalid character %q at offset %d", value, c, i)
		}
	}
	return ID(value), nil
}

// String returns the id as a plain string.
func (id ID) String() string {
	return string(id)
}

// Short returns the first 12 hex characters, for log lines and CLI
// tables where the full id is noise.
func (id ID) Short() string {
	if len(id) <= 12 {
		return string(id)
	}
	return string(id[:12])
}

// Verify reports whether payload hashes to id.
func (id ID) Verify(payload []byte) bool {
	return HashPayload(payload) == id
}
