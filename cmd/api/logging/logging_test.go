package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/matryer/is"
)

func TestNewWithWriter(t *testing.T) {
	t.Run("writes json outside development", func(t *testing.T) {
		is := is.New(t)
		var buf bytes.Buffer
		log := newWithWriter(&buf, "production", "warn")

		log.Info().Msg("dropped")
		log.Warn().Str("component", "test").Msg("kept")

		var entry map[string]any
		is.NoErr(json.Unmarshal(buf.Bytes(), &entry))
		is.Equal(entry["message"], "kept")
		is.Equal(entry["level"], "warn")
		is.Equal(entry["component"], "test")
		_, ok := entry["time"]
		is.True(ok)
	})

	t.Run("an unknown level falls back to info", func(t *testing.T) {
		is := is.New(t)
		var buf bytes.Buffer
		log := newWithWriter(&buf, "production", "verbose")

		log.Debug().Msg("dropped")
		is.Equal(buf.Len(), 0)
		log.Info().Msg("kept")
		is.True(buf.Len() > 0)
	})
}
