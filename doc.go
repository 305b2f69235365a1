// Package mirix is a long-term, multi-modal memory engine for conversational
// agents. It ingests a stream of observations (text, screenshots, audio),
// classifies them across six memory types, and serves semantic, lexical,
// and fuzzy retrieval queries that ground a chat agent's responses.
//
// # Architecture
//
// The root package holds the coordination engine and the contracts that the
// external collaborators implement:
//
//   - [LLMClient] — the chat/memory agent backend (a black box that consumes
//     a typed prompt and returns a tool-call transcript)
//   - [BlobStore] — cloud storage for screenshots and audio
//   - [EmbeddingProvider] — text-to-vector embedding
//   - [Transcriber] — audio-to-text transcription
//   - [Store] — row persistence for all memory entities plus the message log
//     and cloud file mappings (store/sqlite, store/postgres)
//
// On top of those sit the engine components:
//
//   - [UploadManager] — bounded worker pool that materializes blob uploads
//     off the ingest critical path, returning placeholders
//   - [MessageQueue] — per-agent-type FIFO ordering over concurrent submits
//   - [Accumulator] — temporal buffer that waits for uploads and emits
//     batched multi-modal prompts in strict arrival order
//   - [Router] — dispatches a batched prompt to the six memory managers,
//     either through a meta-memory agent or by direct parallel fan-out
//   - the six memory managers ([EpisodicManager], [SemanticManager],
//     [ProceduralManager], [ResourceManager], [VaultManager], [CoreManager])
//     and their LLM tool surfaces
//   - [Coordinator] — the top-level façade: Memorize for ingest, Chat and
//     Ask for retrieval, plus model, persona, key, and snapshot lifecycle
//
// # Quick start
//
//	st := sqlite.New("mirix.db")
//	coord := mirix.NewCoordinator(st, client, embedding, blob, transcriber,
//		mirix.CoordinatorConfig{},
//		mirix.WithAgents(mirix.DefaultAgents()))
//	defer coord.Close()
//
//	err := coord.Memorize(ctx, mirix.Observation{ImagePaths: shots}, time.Now(), true)
//	answer := coord.Ask(ctx, "what was I reading this morning?")
package mirix
