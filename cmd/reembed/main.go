package main

import (
	"context"
	"log"
	"time"

	"github.com/alfredhq/alfred/internal/ai"
	"github.com/alfredhq/alfred/internal/config"
	"github.com/alfredhq/alfred/internal/database"
	"github.com/alfredhq/alfred/internal/memory"
	"github.com/joho/godotenv"
)

// Re-embeds every stored memory through the configured endpoint. Run
// after changing EMBED_MODEL: vectors produced by different models are
// not comparable, so search and dedup are meaningless until the whole
// table is rewritten.
func main() {
	log.Println("Alfred memory re-embedding tool")
	log.Println("===============================")

	_ = godotenv.Load()
	cfg := config.Load()

	driver, err := database.NewSQLiteDriver(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer driver.Close()

	if err := driver.Initialize(context.Background()); err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	log.Printf("Connected to database: %s", cfg.DatabasePath)
	log.Printf("Embedding model: %s (%s)", cfg.EmbedModel, cfg.EmbedURL)

	embedder := ai.NewEmbedder(cfg.EmbedURL, cfg.EmbedModel, cfg.EmbedTimeout)
	store := memory.NewStore(driver.DB(), embedder)

	ctx := context.Background()
	batchSize := 50
	processed := 0
	failed := 0
	delayBetweenBatches := 100 * time.Millisecond

	for offset := 0; ; offset += batchSize {
		records, err := store.All(ctx, batchSize, offset)
		if err != nil {
			log.Fatalf("Failed to list memories: %v", err)
		}
		if len(records) == 0 {
			break
		}

		texts := make([]string, len(records))
		for i, rec := range records {
			texts[i] = rec.Text
		}

		vectors, err := embedder.Embed(ctx, texts)
		if err != nil {
			log.Printf("  FAILED batch at offset %d: %v", offset, err)
			failed += len(records)
			continue
		}

		for i, rec := range records {
			if err := store.UpdateEmbedding(ctx, rec.ID, vectors[i]); err != nil {
				log.Printf("  FAILED [%s]: %v", rec.ID[:8], err)
				failed++
				continue
			}
			processed++
			log.Printf("  OK [%s] %s: %q (%d dims)", rec.ID[:8], rec.Owner, truncate(rec.Text, 40), len(vectors[i]))
		}

		time.Sleep(delayBetweenBatches)
	}

	log.Println("===============================")
	log.Printf("Re-embedding complete. Processed: %d, failed: %d", processed, failed)
}

func truncate(s string, maxLen int) string {
	if runes := []rune(s); len(runes) > maxLen {
		return string(runes[:maxLen])
	}
	return s
}
