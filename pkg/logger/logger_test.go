package logger_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swiftsaleapp/entitlement/pkg/logger"
)

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("json format emits parseable records", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		log := logger.New(
			logger.WithFormat(logger.FormatJSON),
			logger.WithOutput(&buf),
			logger.WithService("entitlementd"),
		)

		log.Info("tier changed", slog.String("tier", "gold"))

		var record map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
		assert.Equal(t, "tier changed", record["msg"])
		assert.Equal(t, "gold", record["tier"])
		assert.Equal(t, "entitlementd", record["service"])
	})

	t.Run("text format is human readable", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		log := logger.New(
			logger.WithFormat(logger.FormatText),
			logger.WithOutput(&buf),
		)

		log.Info("sweep complete", slog.Int("applied", 3))

		out := buf.String()
		assert.Contains(t, out, "sweep complete")
		assert.Contains(t, out, "applied=3")
	})

	t.Run("level filters records", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		log := logger.New(
			logger.WithLevel(slog.LevelWarn),
			logger.WithOutput(&buf),
		)

		log.Debug("noise")
		log.Info("noise")
		log.Warn("signal")

		assert.Equal(t, 1, strings.Count(buf.String(), "\n"))
		assert.Contains(t, buf.String(), "signal")
	})

	t.Run("invalid format panics", func(t *testing.T) {
		t.Parallel()

		assert.Panics(t, func() {
			logger.New(logger.WithFormat("xml"))
		})
	})
}

func TestErrorAttr(t *testing.T) {
	t.Parallel()

	attr := logger.Error(errors.New("boom"))
	assert.Equal(t, "error", attr.Key)
	assert.Equal(t, "boom", attr.Value.String())

	assert.Equal(t, slog.Attr{}, logger.Error(nil))
}
