// Package registry implements the append-once land record registry.
//
// A Registry binds a RecordKey (land coordinates encoded as bytes) to an owner
// record. The first successful Register for a key wins; every later attempt is
// rejected with ErrAlreadyRegistered and the stored value never changes.
// Verify discloses the stored owner to any authenticated caller.
//
// The Registry does not authenticate anyone. Hosts (the CLI, the chaincode)
// authenticate the caller and pass the resulting Identity in.
package registry

import (
	"bytes"
	"encoding/hex"
	"time"
)

// MaxKeyLen bounds RecordKey length so encoded keys stay within NATS key limits.
const MaxKeyLen = 1024

// RecordKey identifies a unique piece of land. Equality is byte equality.
type RecordKey []byte

// String returns the key as text when printable, otherwise as hex.
func (k RecordKey) String() string {
	for _, b := range k {
		if b < 0x20 || b > 0x7e {
			return "0x" + hex.EncodeToString(k)
		}
	}
	return string(k)
}

// maxLoggedKeyLen caps the key bytes rendered by Abbrev.
const maxLoggedKeyLen = 64

// Abbrev is String for diagnostics: keys longer than 64 bytes are cut and
// marked with a trailing "…".
func (k RecordKey) Abbrev() string {
	if len(k) <= maxLoggedKeyLen {
		return k.String()
	}
	return k[:maxLoggedKeyLen].String() + "…"
}

// Equal reports whether two keys hold the same bytes.
func (k RecordKey) Equal(other RecordKey) bool {
	return bytes.Equal(k, other)
}

// Identity is an authenticated caller reference supplied by the host.
type Identity string

// RecordValue is the binding stored under a key.
type RecordValue struct {
	// OwnerName is supplied by the requester at registration time.
	OwnerName []byte `json:"owner"`

	// RegisteredBy is the authenticated caller that performed the registration.
	RegisteredBy Identity `json:"registered_by"`
}

// Record is a RecordValue plus the store metadata kept alongside it.
type Record struct {
	RecordValue
	RegisteredAt time.Time `json:"registered_at"`
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	r.OwnerName = cloneBytes(r.OwnerName)
	return r
}
