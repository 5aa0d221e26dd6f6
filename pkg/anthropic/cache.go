package anthropic

// BuildCachedSystemBlocks constructs a system prompt with a cache breakpoint.
// Every link in a batch reuses the same app prompt, so consecutive calls hit
// the warm cache. An empty text yields no blocks.
func BuildCachedSystemBlocks(text, ttl string) []SystemBlock {
	if text == "" {
		return nil
	}
	return []SystemBlock{
		{
			Text:         text,
			CacheControl: &CacheControl{TTL: ttl},
		},
	}
}
