package nostrmirror

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"storefront/internal/nostrsign"
)

// CommentProof is the short-lived signed tuple a buyer attaches to a Nostr
// comment event so readers can verify it originated from this shop without
// the relay itself knowing about shop identity.
type CommentProof struct {
	Sig string `json:"sig"`
	Ts  int64  `json:"ts"`
}

// proofMessage is the digest input both sides must reproduce byte-for-byte:
// "comment-proof:<pubkeyHex>:<productId>:<ts>".
func proofMessage(pubkeyHex, productID string, ts int64) string {
	return fmt.Sprintf("comment-proof:%s:%s:%d", pubkeyHex, productID, ts)
}

func proofDigest(pubkeyHex, productID string, ts int64) string {
	sum := sha256.Sum256([]byte(proofMessage(pubkeyHex, productID, ts)))
	return hex.EncodeToString(sum[:])
}

// IssueCommentProof signs a fresh (storePubkey, productId, now) tuple.
func (m *Mirror) IssueCommentProof(productID string) (*CommentProof, error) {
	ts := time.Now().Unix()
	digest := proofDigest(m.key.PublicKey, productID, ts)
	sig, err := m.key.Sign(digest)
	if err != nil {
		return nil, fmt.Errorf("sign comment proof: %w", err)
	}
	return &CommentProof{Sig: sig, Ts: ts}, nil
}

// VerifyCommentProof checks a proof against the shop's published pubkey, for
// use by any reader (relay plugin, comment UI) that wants to filter spam
// without trusting the relay to know the shop.
func VerifyCommentProof(storePubkeyHex, productID string, proof CommentProof) (bool, error) {
	digest := proofDigest(storePubkeyHex, productID, proof.Ts)
	return nostrsign.Verify(storePubkeyHex, digest, proof.Sig)
}
