package config

import (
	"errors"
	"fmt"
)

var (
	validTransports = map[string]bool{"llm": true, "ollama": true, "grpc": true}
	validStores     = map[string]bool{"memory": true, "postgres": true}
	validLevels     = map[string]bool{"strict": true, "moderate": true, "permissive": true}
	validEmbedders  = map[string]bool{"": true, "hashing": true, "ollama": true}
)

// Validate checks values that would otherwise fail deep inside a component.
func (c *Config) Validate() error {
	var errs []error
	if !validLevels[c.Scan.Level] {
		errs = append(errs, fmt.Errorf("scan.level: unknown level %q", c.Scan.Level))
	}
	if c.Scan.MaxParallelChecks < 1 {
		errs = append(errs, errors.New("scan.max_parallel_checks must be at least 1"))
	}
	if c.Scan.MaxParallelLayers < 1 {
		errs = append(errs, errors.New("scan.max_parallel_layers must be at least 1"))
	}
	if c.Scan.MaxLen < 1 {
		errs = append(errs, errors.New("scan.max_len must be positive"))
	}
	if c.Similarity.Threshold <= 0 || c.Similarity.Threshold >= 1 {
		errs = append(errs, fmt.Errorf("similarity.threshold %v outside (0,1)", c.Similarity.Threshold))
	}
	if !validEmbedders[c.Similarity.Embedder] {
		errs = append(errs, fmt.Errorf("similarity.embedder: unknown embedder %q", c.Similarity.Embedder))
	}
	if c.Similarity.Embedder == "ollama" && (c.Similarity.Endpoint == "" || c.Similarity.Model == "") {
		errs = append(errs, errors.New("similarity.embedder ollama needs endpoint and model"))
	}
	if c.Semantic.Enabled && !validTransports[c.Semantic.Transport] {
		errs = append(errs, fmt.Errorf("semantic.transport: unknown transport %q", c.Semantic.Transport))
	}
	if c.Validator.Enabled && c.Validator.Transport != "llm" && c.Validator.Transport != "ollama" {
		errs = append(errs, fmt.Errorf("validator.transport: unknown transport %q", c.Validator.Transport))
	}
	if !validStores[c.Ledger.Store] {
		errs = append(errs, fmt.Errorf("ledger.store: unknown store %q", c.Ledger.Store))
	}
	if c.Ledger.CASRetries < 1 {
		errs = append(errs, errors.New("ledger.cas_retries must be at least 1"))
	}
	if c.Ledger.DefaultLimit < 1 || c.Ledger.MaxLimit < c.Ledger.DefaultLimit {
		errs = append(errs, errors.New("ledger limits must satisfy 1 <= default_limit <= max_limit"))
	}
	return errors.Join(errs...)
}
