package middleware

import (
	"fmt"
	"time"

	"github.com/liranbd/llmcomms-go/pkg/llmcomms"
	"github.com/liranbd/llmcomms-go/pkg/llmcomms/cache"
	"github.com/liranbd/llmcomms-go/pkg/llmcomms/util"
)

const (
	ctxCacheHit    = "llm.cache.hit"
	ctxCacheStored = "llm.cache.stored"
)

// Cache is the sixth default stage, immediately before Terminal. Only
// unary responses are cached; the streaming path passes through
// untouched. A response is stored only when it has no tool calls, the
// resolved TTL is positive, and, for a JSON-mode request, its content is
// a JSON object.
type Cache struct {
	Store      cache.Cache
	DefaultTTL time.Duration
}

// NewCache constructs a Cache middleware with a 5-minute default TTL.
func NewCache(store cache.Cache) *Cache {
	return &Cache{Store: store, DefaultTTL: 5 * time.Minute}
}

func (c *Cache) Name() string     { return "cache" }
func (c *Cache) IsTerminal() bool { return false }

func (c *Cache) Invoke(ctx *llmcomms.LLMContext, next Next) (llmcomms.Response, error) {
	if noCache(ctx.Request.ProviderHints) {
		return next(ctx)
	}

	key := cacheKey(ctx)
	if resp, ok := c.Store.Get(key); ok {
		ctx.Call.Set(ctxCacheHit, true)
		return resp, nil
	}

	resp, err := next(ctx)
	if err != nil {
		return resp, err
	}

	ttl := resolveTTL(ctx.Request.ProviderHints, c.DefaultTTL)
	jsonInvalid := ctx.Request.ResponseFormat == llmcomms.ResponseFormatJSON && !isJSONObject(resp.Message.Content)
	if len(resp.ToolCalls) == 0 && ttl > 0 && !jsonInvalid {
		c.Store.Set(key, resp, ttl)
		ctx.Call.Set(ctxCacheStored, true)
	}
	return resp, nil
}

// InvokeStream passes through unchanged: the streaming path is never
// cached.
func (c *Cache) InvokeStream(ctx *llmcomms.LLMContext, next StreamNext) (<-chan llmcomms.StreamEvent, error) {
	return next(ctx)
}

func cacheKey(ctx *llmcomms.LLMContext) string {
	return fmt.Sprintf("%s:%s:%s", ctx.Provider, ctx.Model.ID, util.Hash(ctx.Model.ID, ctx.Request))
}

func noCache(hints map[string]any) bool {
	v, ok := hints["no_cache"]
	if !ok {
		return false
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t == "true"
	case int:
		return t != 0
	case int64:
		return t != 0
	case float64:
		return t != 0
	default:
		return false
	}
}

// resolveTTL honors cache_ttl_seconds, then cache_ttl, then def, in
// precedence order. Only positive values are accepted at each step.
func resolveTTL(hints map[string]any, def time.Duration) time.Duration {
	if secs, ok := asPositiveNumber(hints["cache_ttl_seconds"]); ok {
		return time.Duration(secs * float64(time.Second))
	}
	if secs, ok := asPositiveNumber(hints["cache_ttl"]); ok {
		return time.Duration(secs * float64(time.Second))
	}
	return def
}

func asPositiveNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), t > 0
	case int64:
		return float64(t), t > 0
	case float64:
		return t, t > 0
	default:
		return 0, false
	}
}
