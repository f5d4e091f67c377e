package bench

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llmstreambench/internal/errdefs"
)

func intPtr(v int) *int { return &v }

func TestValidate(t *testing.T) {
	base := TestConfig{Models: []string{"A"}, Question: "hi", Concurrency: 1, Iterations: 1}

	tests := []struct {
		name  string
		edit  func(*TestConfig)
		field string
	}{
		{"valid", func(*TestConfig) {}, ""},
		{"no models", func(c *TestConfig) { c.Models = nil }, "models"},
		{"blank model", func(c *TestConfig) { c.Models = []string{" "} }, "models"},
		{"blank question", func(c *TestConfig) { c.Question = " \t" }, "question"},
		{"zero concurrency", func(c *TestConfig) { c.Concurrency = 0 }, "concurrency"},
		{"zero iterations", func(c *TestConfig) { c.Iterations = 0 }, "iterations"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base.Clone()
			tt.edit(&cfg)
			err := cfg.Validate()
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			var verr *errdefs.ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestLimitsCheck(t *testing.T) {
	l := DefaultLimits()
	cfg := TestConfig{Models: []string{"A"}, Question: "q", Concurrency: 20, Iterations: 50, MaxTokens: intPtr(4000)}
	assert.NoError(t, l.Check(cfg))

	cfg.Concurrency = 21
	var verr *errdefs.ValidationError
	require.True(t, errors.As(l.Check(cfg), &verr))
	assert.Equal(t, "concurrency", verr.Field)

	cfg.Concurrency = 3
	cfg.MaxTokens = intPtr(5)
	require.True(t, errors.As(l.Check(cfg), &verr))
	assert.Equal(t, "max_tokens", verr.Field)
}

func TestCloneIsDeep(t *testing.T) {
	temp := 0.7
	cfg := TestConfig{Models: []string{"A"}, Temperature: &temp}
	cp := cfg.Clone()
	cp.Models[0] = "B"
	*cp.Temperature = 1

	assert.Equal(t, "A", cfg.Models[0])
	assert.Equal(t, 0.7, *cfg.Temperature)
}

func TestStreamEnabled(t *testing.T) {
	off := false
	assert.True(t, TestConfig{}.StreamEnabled())
	assert.False(t, TestConfig{Stream: &off}.StreamEnabled())
	assert.Equal(t, 6, TestConfig{Concurrency: 3, Iterations: 2}.TotalRequests())
}
