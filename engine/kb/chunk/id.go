package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/inquira/inquira/engine/core"
)

// chunkID derives a deterministic chunk identifier so re-ingesting identical
// content upserts the same records instead of accumulating duplicates.
func chunkID(documentID string, index int, content string) core.ID {
	return core.ID(hashText(documentID + "::" + fmt.Sprint(index) + "::" + hashText(content)))
}

func hashText(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:16])
}
