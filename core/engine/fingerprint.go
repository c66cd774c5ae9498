package engine

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/crosslation/redline/core/doc"
	"github.com/crosslation/redline/core/extract"
)

// Memory remembers which operations have already landed on which target,
// so re-running a job skips work instead of stacking duplicate revisions.
type Memory interface {
	// Transferred reports whether the fingerprint was recorded before.
	Transferred(ctx context.Context, fingerprint string) (bool, error)
	// MarkTransferred records the fingerprint.
	MarkTransferred(ctx context.Context, fingerprint string) error
}

// targetIdentity hashes the target's pre-edit projection. Applying
// revision markup never changes that projection: insertions are excluded
// from it and deletions retain their text. The identity therefore survives
// a transfer run, and a re-run against the updated file resolves to the
// same value.
func targetIdentity(d *doc.Document) string {
	var b strings.Builder
	for i, p := range d.Paragraphs {
		if i > 0 {
			b.WriteByte(0x1e)
		}
		b.WriteString(p.OriginalText())
	}
	sum := blake3.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// opFingerprint keys one source operation against one target identity.
func opFingerprint(op extract.Op, targetID string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\x1f%d\x1f%d\x1f%d\x1f%s\x1f%s",
		op.Kind, op.Paragraph, op.Offset, op.Length, op.Text, targetID)
	sum := blake3.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
