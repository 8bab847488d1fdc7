package services

import (
	"context"
	"time"

	"esachat/internal/kvstore"
)

// Store key layout. Every session key shares one retention window.
func keyChat(sid string) string { return "chat:" + sid }
func keyHistory(sid string) string { return "chat:" + sid + ":history" }
func keyState(sid string) string { return "state:" + sid }
func keyGlobalDoc(sid string) string { return "session:" + sid }
func keyOwner(sid string) string { return "session:" + sid + ":owner" }
func keyUserDoc(sub, sid string) string { return "user:" + sub + ":session:" + sid }
func keyIndex(sub string) string { return "sessidx:" + sub }

// IndexKeyPattern matches every per-user recency index.
const IndexKeyPattern = "sessidx:*"

// DefaultSessionTTL is the retention window applied on every touch.
const DefaultSessionTTL = 14 * 24 * time.Hour

// expireSessionKeys queues a TTL refresh of every key belonging to sid.
// Missing keys are ignored by the store.
func expireSessionKeys(b kvstore.Batch, ttl time.Duration, sid, sub string) {
	for _, k := range []string{keyChat(sid), keyHistory(sid), keyState(sid), keyGlobalDoc(sid), keyOwner(sid)} {
		b.Expire(k, ttl)
	}
	if sub != "" {
		b.Expire(keyUserDoc(sub, sid), ttl)
	}
}

func touchSessionTTL(ctx context.Context, store kvstore.Store, ttl time.Duration, sid, sub string) error {
	return store.Batch(ctx, func(b kvstore.Batch) {
		expireSessionKeys(b, ttl, sid, sub)
	})
}
