package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"golang.org/x/text/unicode/norm"

	"github.com/ShoshinNikita/omfg/omfg"
)

// sourceKey returns a hash of the source path. Paths are normalized to NFC, so names
// written in decomposed form (for example, by macOS) produce the same key.
func sourceKey(req omfg.ImageRequest) string {
	hash := sha256.Sum256([]byte(norm.NFC.String(req.GetPath())))
	return hex.EncodeToString(hash[:16])
}

// lockKey identifies a thumbnail of any version of the source.
func lockKey(req omfg.ImageRequest) string {
	return fmt.Sprintf("%s_h%d", sourceKey(req), req.GetHeight())
}

// entryKey identifies a thumbnail of the current version of the source.
func entryKey(req omfg.ImageRequest) string {
	return fmt.Sprintf("%s_t%d_s%d", lockKey(req), req.GetModTime().UnixNano(), req.GetSize())
}
