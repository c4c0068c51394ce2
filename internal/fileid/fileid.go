// Package fileid derives stable document identifiers and content hashes.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
)

const idPrefixLen = 1000

// DocumentID returns a 16 hex character id from the base filename, the text length and
// the first characters of the text. The same file content always yields the same id.
func DocumentID(filename, text string) string {
	head := text
	if len(head) > idPrefixLen {
		head = head[:idPrefixLen]
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s_%d_%s", filepath.Base(filename), len(text), head)))
	return hex.EncodeToString(sum[:])[:16]
}

// ContentHash returns the hex SHA-256 of text, used for change detection.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
