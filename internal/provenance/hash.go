package provenance

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"carechain/pkg/domain"
)

// recordDomain prefixes every record hash for domain separation. The
// version suffix enables future algorithm migration.
const recordDomain = "carechain/record/v1"

// hashWithDomain computes SHA-256 over tag + 0x00 + data. The null
// separator prevents tag/data boundary ambiguity.
func hashWithDomain(tag string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(tag))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// EncodeRecord produces the canonical byte form of a record: JSON with the
// struct's fixed field order. The same record always encodes to the same
// bytes, so hashes are stable across processes.
func EncodeRecord(rec domain.ProvenanceRecord) ([]byte, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return data, nil
}

// DecodeRecord parses canonical record bytes.
func DecodeRecord(data []byte) (domain.ProvenanceRecord, error) {
	var rec domain.ProvenanceRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return domain.ProvenanceRecord{}, fmt.Errorf("decode record: %w", err)
	}
	return rec, nil
}

// HashBytes computes the content hash of canonical record bytes.
func HashBytes(data []byte) string {
	return hashWithDomain(recordDomain, data)
}

// HashRecord computes the content hash of a record.
func HashRecord(rec domain.ProvenanceRecord) (string, error) {
	data, err := EncodeRecord(rec)
	if err != nil {
		return "", err
	}
	return HashBytes(data), nil
}

// RecordKey derives the content-store key for a record hash. The hash is
// embedded in the key so stored bytes can be re-verified from the
// reference alone.
func RecordKey(subjectID, hash string) string {
	return fmt.Sprintf("records/%s/%s.json", subjectID, hash)
}

// HashFromRef extracts the content hash embedded in a record key. It
// returns an empty string for refs that do not follow the record key
// layout, so opaque backend refs are never mistaken for hashes.
func HashFromRef(ref string) string {
	base := ref
	if i := strings.LastIndexByte(base, '/'); i >= 0 {
		base = base[i+1:]
	}
	base = strings.TrimSuffix(base, ".json")
	if len(base) != sha256.Size*2 {
		return ""
	}
	for _, r := range base {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return ""
		}
	}
	return base
}
