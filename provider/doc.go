// Package provider defines the contracts for the external services Lorebook
// consumes - text embedding and extraction/summarization - together with
// production implementations and deterministic mocks.
//
// # Contracts
//
//   - Embedder: text -> fixed-dimension vector
//   - Extractor: conversation turns -> candidate memory facts
//   - Summarizer: conversation turns -> condensed summary with topics and
//     participants
//
// All three may fail or time out; callers run every provider call through
// Retry, which applies bounded attempts, exponential backoff, and a
// per-attempt timeout.
//
// # Implementations
//
// OpenAIProvider serves all three contracts from one OpenAI client:
//
//	p := provider.NewOpenAIProvider(os.Getenv("OPENAI_API_KEY"), nil)
//	vec, err := p.Embed(ctx, "the dragon guards the northern pass")
//
// LangChainEmbedder and LangChainModel adapt langchaingo embedders and chat
// models, so any backend langchaingo supports can be plugged in:
//
//	llm, _ := openai.New()
//	extractor := provider.NewLangChainModel(llm)
//
// MockEmbedder, MockExtractor and MockSummarizer are deterministic and need
// no network; tests and local development use them.
package provider
