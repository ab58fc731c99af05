package anthropic

// CachedSystemBlocks builds the system prompt for a multi-call pass: the
// stable prefix (contract, vocabulary, digest) carries a cache breakpoint so
// every batch after the first reads it from the prompt cache.
func CachedSystemBlocks(stable string, rest ...string) []SystemBlock {
	blocks := []SystemBlock{{
		Text:         stable,
		CacheControl: &CacheControl{TTL: "5m"},
	}}
	for _, r := range rest {
		if r != "" {
			blocks = append(blocks, SystemBlock{Text: r})
		}
	}
	return blocks
}
