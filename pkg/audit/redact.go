package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// redactRecord replaces raw tool arguments with a salted hash so the audit
// trail proves what was dispatched without retaining argument content.
func redactRecord(rec Record, salt []byte) Record {
	if len(rec.Args) == 0 {
		return rec
	}
	payload := map[string]string{"args_hash": hashBytes(rec.Args, salt)}
	b, _ := json.Marshal(payload)
	rec.Args = b
	return rec
}

// HashIdentity produces the salted actor hash stored in audit records.
func HashIdentity(value string, salt []byte) string {
	return hashBytes([]byte(value), salt)
}

func hashBytes(b []byte, salt []byte) string {
	h := sha256.New()
	if len(salt) > 0 {
		_, _ = h.Write(salt)
	}
	_, _ = h.Write(b)
	return hex.EncodeToString(h.Sum(nil))
}
