package app

import (
	"log/slog"
	"sync"

	"github.com/barekit/ragchat/pkg/chat"
	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

// Encoding used for models the tokenizer does not know, such as the gpt-4o
// family.
const fallbackEncoding = tiktoken.MODEL_CL100K_BASE

var offlineBPE sync.Once

// NewTokenCounter resolves the tokenizer of model once, from the BPE ranks
// bundled into the binary, so counting never touches the network. When no
// encoding can be loaded it counts with chat.ApproxTokens.
func NewTokenCounter(model string, logger *slog.Logger) chat.TokenCounter {
	if logger == nil {
		logger = slog.Default()
	}
	offlineBPE.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})

	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding(fallbackEncoding)
	}
	if err != nil {
		logger.Warn("tokenizer unavailable, approximating token counts", "model", model, "error", err)
		return chat.ApproxTokens
	}
	return func(text string) int {
		return len(enc.EncodeOrdinary(text))
	}
}
