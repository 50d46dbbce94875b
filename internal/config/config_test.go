package config

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateRejectsMissingRequired(t *testing.T) {
	cfg := &Config{}
	err := cfg.Validate()
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrMissingRequired))
}

func TestValidateDefaultsSchedulingKnobs(t *testing.T) {
	cfg := &Config{
		DBHost:        "localhost",
		DBUser:        "weaver",
		DBName:        "weaver",
		EmbeddingsURL: "http://embeddings.local",
		EmbeddingsKey: "secret",
	}
	require.NoError(t, cfg.Validate())
	require.Equal(t, 3, cfg.MaxConcurrentJobs)
	require.Equal(t, 60000, cfg.FallbackPollMS)
}

func TestValidateKeepsExplicitSchedulingKnobs(t *testing.T) {
	cfg := &Config{
		DBHost:            "localhost",
		DBUser:            "weaver",
		DBName:            "weaver",
		EmbeddingsURL:     "http://embeddings.local",
		EmbeddingsKey:     "secret",
		MaxConcurrentJobs: 7,
		FallbackPollMS:    5000,
	}
	require.NoError(t, cfg.Validate())
	require.Equal(t, 7, cfg.MaxConcurrentJobs)
	require.Equal(t, 5000, cfg.FallbackPollMS)
}
