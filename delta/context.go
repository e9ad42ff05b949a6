package delta

import (
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"
)

// deltaContext is the fixed JSON-LD context every delta's wire
// envelope carries (§6): it binds s/p/o to @id and tid to the
// reification vocabulary's TID predicate. It never varies across
// deltas or clones, so it is compiled exactly once per process.
var deltaContext = []byte(`{"s":"@id","p":"@id","o":"@id","tid":"http://m-ld.org/ns#tid"}`)

// ActiveContext is the compiled form of a delta's JSON-LD context.
// Flattening/compaction against it is the query front-end's job; the
// core only needs to avoid recompiling the same (always identical)
// context bytes on every delta it marshals or unmarshals.
type ActiveContext struct {
	Raw string
}

// contextCache memoizes compiled contexts by their raw-bytes digest.
type contextCache struct {
	cache *lru.Cache[string, *ActiveContext]
}

func newContextCache(size int) *contextCache {
	c, _ := lru.New[string, *ActiveContext](size)
	return &contextCache{cache: c}
}

func (cc *contextCache) compile(raw []byte) *ActiveContext {
	digest := sha256.Sum256(raw)
	key := hex.EncodeToString(digest[:])
	if ctx, ok := cc.cache.Get(key); ok {
		return ctx
	}
	ctx := &ActiveContext{Raw: string(raw)}
	cc.cache.Add(key, ctx)
	return ctx
}

// activeContexts is process-wide rather than per-Dataset: the fixed
// delta context compiles to the same ActiveContext value no matter
// how many Datasets a process opens, so one cache sized for a small
// handful of context versions covers all of them.
var activeContexts = newContextCache(4)
