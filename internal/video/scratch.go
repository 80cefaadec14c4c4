package video

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// scratchExtPattern is the only shape of extension preserved in generated
// scratch names; anything else is substituted with mp4 so crafted original
// names cannot smuggle path separators or oversized suffixes.
var scratchExtPattern = regexp.MustCompile(`^[a-zA-Z0-9]{1,5}$`)

// ScratchFileName derives a collision-resistant ASCII filename for scratch
// storage from an arbitrary caller-supplied name. The result embeds a short
// content hash of the original name plus a random component, so concurrent
// requests never collide and the original name never reaches the filesystem.
func ScratchFileName(originalName string) string {
	sum := sha256.Sum256([]byte(originalName))
	hash := hex.EncodeToString(sum[:])[:8]

	random := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]

	ext := "mp4"
	if idx := strings.LastIndex(originalName, "."); idx >= 0 {
		candidate := strings.ToLower(originalName[idx+1:])
		if scratchExtPattern.MatchString(candidate) {
			ext = candidate
		}
	}

	return fmt.Sprintf("video_%s_%s.%s", hash, random, ext)
}
