package config

import "fmt"

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the loaded configuration and returns every problem it
// finds rather than stopping at the first one.
func (c *Config) Validate() []ValidationError {
	var errs []ValidationError

	if c.Database.URL == "" {
		errs = append(errs, ValidationError{
			Field:   "database.url",
			Message: "required (set DATABASE_URL or database.url)",
		})
	}

	if c.LSH.Enabled && c.Redis.Addr == "" {
		errs = append(errs, ValidationError{
			Field:   "redis.addr",
			Message: "required when lsh.enabled is true",
		})
	}

	if c.Embedding.Dimension <= 0 {
		errs = append(errs, ValidationError{
			Field:   "embedding.dimension",
			Message: "must be positive",
		})
	}
	if c.Embedding.BatchSize <= 0 {
		errs = append(errs, ValidationError{
			Field:   "embedding.batch_size",
			Message: "must be positive",
		})
	}

	if c.Chunking.ChunkSize <= 0 {
		errs = append(errs, ValidationError{
			Field:   "chunking.chunk_size",
			Message: "must be positive",
		})
	}
	if c.Chunking.ChunkOverlap < 0 {
		errs = append(errs, ValidationError{
			Field:   "chunking.chunk_overlap",
			Message: "must not be negative",
		})
	} else if c.Chunking.ChunkSize > 0 && c.Chunking.ChunkOverlap >= c.Chunking.ChunkSize {
		errs = append(errs, ValidationError{
			Field:   "chunking.chunk_overlap",
			Message: "must be smaller than chunking.chunk_size",
		})
	}

	if c.LSH.Threshold < 0 || c.LSH.Threshold > 1 {
		errs = append(errs, ValidationError{
			Field:   "lsh.threshold",
			Message: "must be between 0 and 1",
		})
	}
	if c.LSH.NumPerm <= 0 {
		errs = append(errs, ValidationError{
			Field:   "lsh.num_perm",
			Message: "must be positive",
		})
	}
	if c.LSH.Bands <= 0 {
		errs = append(errs, ValidationError{
			Field:   "lsh.bands",
			Message: "must be positive",
		})
	} else if c.LSH.NumPerm > 0 && c.LSH.NumPerm%c.LSH.Bands != 0 {
		errs = append(errs, ValidationError{
			Field:   "lsh.bands",
			Message: fmt.Sprintf("must divide lsh.num_perm (%d)", c.LSH.NumPerm),
		})
	}
	if c.LSH.CandidateLimit <= 0 {
		errs = append(errs, ValidationError{
			Field:   "lsh.candidate_limit",
			Message: "must be positive",
		})
	}

	if c.Retrieval.TopK <= 0 {
		errs = append(errs, ValidationError{
			Field:   "retrieval.top_k",
			Message: "must be positive",
		})
	}

	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, ValidationError{
			Field:   "retry.max_attempts",
			Message: "must be at least 1",
		})
	}

	return errs
}
