// docchat-rag-llm answers natural-language questions over user-uploaded
// documents by combining vector retrieval with a generative model.
package main

import (
	"log"
	"time"

	"github.com/joho/godotenv"

	"docchat-rag-llm/internal/api"
	"docchat-rag-llm/internal/chunker"
	"docchat-rag-llm/internal/config"
	"docchat-rag-llm/internal/conversation"
	"docchat-rag-llm/internal/embeddings"
	"docchat-rag-llm/internal/ingest"
	"docchat-rag-llm/internal/llm"
	"docchat-rag-llm/internal/retriever"
	"docchat-rag-llm/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	embedder, generator, err := buildProviders(cfg)
	if err != nil {
		log.Fatal("Failed to initialize service clients:", err)
	}

	vectorStore, err := storage.NewSQLiteVectorStore(cfg.Storage.Path, cfg.Storage.Metric, embedder.ModelID())
	if err != nil {
		log.Fatal("Failed to initialize vector store:", err)
	}
	defer func() {
		if err := vectorStore.Close(); err != nil {
			log.Printf("Error closing vector store: %v", err)
		}
	}()

	splitter, err := chunker.NewSplitter(cfg.Chunking.ChunkSize, cfg.Chunking.Overlap, cfg.Chunking.BoundaryTolerance)
	if err != nil {
		log.Fatal("Failed to initialize chunker:", err)
	}

	ingestSvc := ingest.NewService(splitter, embedder, vectorStore)
	ret := retriever.New(embedder, vectorStore, cfg.Retrieval.MinSimilarity)

	conv, err := conversation.NewManager(ret, generator, conversation.Options{
		TopK:            cfg.Retrieval.TopK,
		MaxContextChars: cfg.Conversation.MaxContextChars,
		HistoryWindow:   cfg.Conversation.HistoryWindow,
	})
	if err != nil {
		log.Fatal("Failed to initialize conversation manager:", err)
	}

	server := api.NewServer(ingestSvc, vectorStore, conv, api.ServerTimeouts{
		Read:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		Write: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	})

	if err := server.Run(cfg.Addr()); err != nil {
		log.Printf("Server stopped: %v", err)
	}
}

func buildProviders(cfg *config.Config) (embeddings.Embedder, llm.Generator, error) {
	switch cfg.Services.Provider {
	case "openai":
		embedder, err := embeddings.NewOpenAIEmbedder(
			cfg.Services.OpenAI.APIKey,
			cfg.Services.OpenAI.EmbeddingModel,
			cfg.Services.MaxBatchSize,
			cfg.Services.MaxRetries,
			cfg.RetryDelay(),
		)
		if err != nil {
			return nil, nil, err
		}
		generator, err := llm.NewOpenAIClient(
			cfg.Services.OpenAI.APIKey,
			cfg.Services.OpenAI.ChatModel,
			cfg.Services.MaxRetries,
			cfg.RetryDelay(),
		)
		if err != nil {
			return nil, nil, err
		}
		return embedder, generator, nil
	default:
		embedder := embeddings.NewOllamaEmbedder(
			cfg.Services.Ollama.BaseURL,
			cfg.Services.Ollama.EmbeddingModel,
			cfg.OllamaTimeout(),
			cfg.Services.MaxBatchSize,
			cfg.Services.MaxRetries,
			cfg.RetryDelay(),
		)
		generator := llm.NewOllamaClient(
			cfg.Services.Ollama.BaseURL,
			cfg.Services.Ollama.LLMModel,
			cfg.OllamaTimeout(),
			cfg.Services.MaxRetries,
			cfg.RetryDelay(),
		)
		return embedder, generator, nil
	}
}
