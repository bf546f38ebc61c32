package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Validate checks Config for production-critical problems.
// It collects all errors into a single joined error.
func (c *Config) Validate() error {
	var errs []string

	// DB password
	if c.DB.Password == "" {
		errs = append(errs, "DB_PASSWORD is required")
	}

	// Port ranges
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT must be 1–65535, got %d", c.Server.Port))
	}
	if c.DB.Port < 1 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Sprintf("DB_PORT must be 1–65535, got %d", c.DB.Port))
	}
	if c.Redis.Port < 1 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Sprintf("REDIS_PORT must be 1–65535, got %d", c.Redis.Port))
	}

	// Memory budgets must stay positive or the assembler returns empty context
	if c.Memory.TokenBudget < 0 {
		errs = append(errs, fmt.Sprintf("MEMORY_TOKEN_BUDGET must be non-negative, got %d", c.Memory.TokenBudget))
	}
	if c.Memory.RecentWindow < 1 {
		errs = append(errs, fmt.Sprintf("MEMORY_RECENT_WINDOW must be at least 1, got %d", c.Memory.RecentWindow))
	}

	// Trust allow-list entries must look like adapter ids, not blanks
	for _, id := range c.Trust.AllowedAdapters {
		if strings.TrimSpace(id) == "" {
			errs = append(errs, "TRUST_ALLOWED_ADAPTERS contains an empty entry")
			break
		}
	}

	// Search API key is optional; the tool degrades to inline error text.
	if c.Search.APIKey == "" {
		slog.Warn("SEARCH_API_KEY is empty, web search tool calls will fail inline")
	}

	if len(errs) > 0 {
		return errors.New("config validation failed:\n  " + strings.Join(errs, "\n  "))
	}
	return nil
}
