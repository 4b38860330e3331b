// Package tokencount estimates token counts for messages, backing the
// compaction decisions elsewhere in codeframe.
package tokencount

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkoukk/tiktoken-go"

	"github.com/codeframe/codeframe/llm"
)

// modelEncodings maps a model name prefix to its tiktoken encoding and
// context window size. Unknown models fall back to cl100k_base/8192.
var modelEncodings = map[string]struct {
	encoding  string
	maxTokens int
}{
	"gpt-4o":        {encoding: "o200k_base", maxTokens: 128000},
	"gpt-4-turbo":   {encoding: "cl100k_base", maxTokens: 128000},
	"gpt-4":         {encoding: "cl100k_base", maxTokens: 8192},
	"gpt-3.5-turbo": {encoding: "cl100k_base", maxTokens: 16385},
	"claude":        {encoding: "cl100k_base", maxTokens: 200000},
}

// Counter estimates token counts for a given model, caching per-message
// results by content hash so repeated compaction passes over the same
// conversation prefix don't re-tokenize it.
type Counter struct {
	model     string
	encoding  string
	maxTokens int

	once    sync.Once
	enc     *tiktoken.Tiktoken
	initErr error

	cache *lru.Cache[string, int]
}

// New builds a Counter for model with a cache holding up to cacheSize
// message token counts.
func New(model string, cacheSize int) (*Counter, error) {
	if cacheSize <= 0 {
		cacheSize = 4096
	}
	cache, err := lru.New[string, int](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("tokencount: create cache: %w", err)
	}

	info, ok := modelEncodings[model]
	if !ok {
		for prefix, i := range modelEncodings {
			if len(model) >= len(prefix) && model[:len(prefix)] == prefix {
				info, ok = i, true
				break
			}
		}
	}
	if !ok {
		info = struct {
			encoding  string
			maxTokens int
		}{encoding: "cl100k_base", maxTokens: 8192}
	}

	return &Counter{
		model:     model,
		encoding:  info.encoding,
		maxTokens: info.maxTokens,
		cache:     cache,
	}, nil
}

func (c *Counter) init() error {
	c.once.Do(func() {
		enc, err := tiktoken.GetEncoding(c.encoding)
		if err != nil {
			c.initErr = fmt.Errorf("tokencount: init encoding %s: %w", c.encoding, err)
			return
		}
		c.enc = enc
	})
	return c.initErr
}

// MaxTokens returns the context window size assumed for this model.
func (c *Counter) MaxTokens() int { return c.maxTokens }

// CountText returns the token count of a raw string.
func (c *Counter) CountText(text string) (int, error) {
	if err := c.init(); err != nil {
		return 0, err
	}
	return len(c.enc.Encode(text, nil, nil)), nil
}

// CountMessage returns the token count of a single message, including the
// fixed per-message role/delimiter overhead, using the content-hash cache.
func (c *Counter) CountMessage(msg llm.Message) (int, error) {
	key := hashMessage(msg)
	if n, ok := c.cache.Get(key); ok {
		return n, nil
	}
	if err := c.init(); err != nil {
		return 0, err
	}

	total := 4 // <|start|>role\ncontent<|end|>\n overhead
	total += len(c.enc.Encode(msg.Content, nil, nil))
	total += len(c.enc.Encode(string(msg.Role), nil, nil))

	c.cache.Add(key, total)
	return total, nil
}

// CountMessages returns the total token count of a conversation, including
// the fixed 3-token conversation-end overhead.
func (c *Counter) CountMessages(messages []llm.Message) (int, error) {
	total := 3
	for _, msg := range messages {
		n, err := c.CountMessage(msg)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

func hashMessage(msg llm.Message) string {
	h := sha256.New()
	h.Write([]byte(msg.Role))
	h.Write([]byte{0})
	h.Write([]byte(msg.Content))
	h.Write([]byte{0})
	h.Write([]byte(msg.ToolCallID))
	return hex.EncodeToString(h.Sum(nil))
}
