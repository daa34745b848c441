package services_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trobanga/oaiharvest/internal/models"
	"github.com/trobanga/oaiharvest/internal/services"
)

func day(s string) time.Time {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return t
}

type span struct{ from, until string }

func spans(ws []services.Window) []span {
	out := make([]span, len(ws))
	for i, w := range ws {
		out[i] = span{w.From.Format(time.DateOnly), w.Until.Format(time.DateOnly)}
	}
	return out
}

// TestWindow_Split tests calendar-aligned windows
func TestWindow_Split(t *testing.T) {
	tests := []struct {
		name   string
		from   string
		until  string
		period string
		want   []span
	}{
		{"none", "2024-01-10", "2024-02-20", "none", []span{{"2024-01-10", "2024-02-20"}}},
		{"daily", "2024-01-01", "2024-01-03", "daily", []span{
			{"2024-01-01", "2024-01-01"}, {"2024-01-02", "2024-01-02"}, {"2024-01-03", "2024-01-03"},
		}},
		{"weekly from monday", "2024-01-01", "2024-01-14", "weekly", []span{
			{"2024-01-01", "2024-01-07"}, {"2024-01-08", "2024-01-14"},
		}},
		{"weekly mid week", "2024-01-03", "2024-01-10", "weekly", []span{
			{"2024-01-03", "2024-01-07"}, {"2024-01-08", "2024-01-10"},
		}},
		{"monthly", "2024-01-15", "2024-03-10", "monthly", []span{
			{"2024-01-15", "2024-01-31"}, {"2024-02-01", "2024-02-29"}, {"2024-03-01", "2024-03-10"},
		}},
		{"single day", "2024-06-01", "2024-06-01", "monthly", []span{{"2024-06-01", "2024-06-01"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ws, err := services.Window{From: day(tt.from), Until: day(tt.until)}.Split(tt.period)
			require.NoError(t, err)
			assert.Equal(t, tt.want, spans(ws))
		})
	}
}

// TestWindow_SplitErrors tests inverted ranges and unknown periods
func TestWindow_SplitErrors(t *testing.T) {
	_, err := services.Window{From: day("2024-02-01"), Until: day("2024-01-01")}.Split("daily")
	assert.ErrorIs(t, err, services.ErrInvalidDateRange)

	_, err = services.Window{From: day("2024-02-01"), Until: day("2024-01-01")}.Split("")
	assert.ErrorIs(t, err, services.ErrInvalidDateRange)

	_, err = services.Window{From: day("2024-01-01"), Until: day("2024-02-01")}.Split("hourly")
	assert.Error(t, err)
}

// TestExpandRepository tests conversion of a repository into parameter sets
func TestExpandRepository(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		params, err := services.ExpandRepository(models.RepositoryConfig{BaseURL: "https://repo.example.org/oai"})
		require.NoError(t, err)
		require.Len(t, params, 1)
		assert.Equal(t, models.VerbListRecords, params[0].Verb())
		assert.Equal(t, services.DefaultMetadataPrefix, params[0].Get(models.ParamMetadataPrefix))
	})

	t.Run("open range", func(t *testing.T) {
		params, err := services.ExpandRepository(models.RepositoryConfig{
			BaseURL: "https://repo.example.org/oai",
			From:    "2024-01-01",
			Window:  "monthly",
		})
		require.NoError(t, err)
		require.Len(t, params, 1)
		assert.Equal(t, "2024-01-01", params[0].Get(models.ParamFrom))
		assert.Empty(t, params[0].Get(models.ParamUntil))
	})

	t.Run("windowed", func(t *testing.T) {
		params, err := services.ExpandRepository(models.RepositoryConfig{
			BaseURL:        "https://repo.example.org/oai",
			Verb:           "ListIdentifiers",
			MetadataPrefix: "marc21",
			Set:            "physics",
			From:           "2024-01-01",
			Until:          "2024-01-14",
			Window:         "weekly",
		})
		require.NoError(t, err)
		require.Len(t, params, 2)
		assert.Equal(t, "2024-01-08", params[1].Get(models.ParamFrom))
		assert.Equal(t, "2024-01-14", params[1].Get(models.ParamUntil))
		assert.Equal(t, "physics", params[1].Get(models.ParamSet))
		assert.Equal(t, "marc21", params[1].Get(models.ParamMetadataPrefix))
	})

	t.Run("get record", func(t *testing.T) {
		params, err := services.ExpandRepository(models.RepositoryConfig{
			BaseURL:    "https://repo.example.org/oai",
			Verb:       "GetRecord",
			Identifier: "oai:x:1",
		})
		require.NoError(t, err)
		require.Len(t, params, 1)
		assert.Equal(t, "oai:x:1", params[0].Get(models.ParamIdentifier))
	})

	t.Run("identify takes no prefix", func(t *testing.T) {
		params, err := services.ExpandRepository(models.RepositoryConfig{BaseURL: "https://repo.example.org/oai", Verb: "Identify"})
		require.NoError(t, err)
		assert.Empty(t, params[0].Get(models.ParamMetadataPrefix))
	})

	errorCases := []models.RepositoryConfig{
		{BaseURL: "https://repo.example.org/oai", Verb: "GetRecord"},
		{BaseURL: "https://repo.example.org/oai", Verb: "ListSets", From: "2024-01-01"},
		{BaseURL: "https://repo.example.org/oai", From: "January"},
		{BaseURL: "https://repo.example.org/oai", From: "2024-02-01", Until: "2024-01-01"},
		{BaseURL: "repo.example.org"},
	}
	for _, repo := range errorCases {
		_, err := services.ExpandRepository(repo)
		assert.Error(t, err, "%+v", repo)
	}
}
