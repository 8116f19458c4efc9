package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestInitModes(t *testing.T) {
	for _, mode := range []string{"production", "development", "Dev", ""} {
		t.Run("mode "+mode, func(t *testing.T) {
			assert.NoError(t, Init(mode))
			assert.NotNil(t, Log())
			assert.NotNil(t, S())
		})
	}
}

func TestUseReplacesGlobals(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	Use(zap.New(core))

	Named("pipeline").Info("frame sent", zap.Int("detections", 2))
	zap.L().Warn("through the global")

	entries := logs.All()
	if assert.Len(t, entries, 2) {
		assert.Equal(t, "pipeline", entries[0].LoggerName)
		assert.Equal(t, int64(2), entries[0].ContextMap()["detections"])
		assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	}
}
