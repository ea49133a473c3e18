package logsvc

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/cohortly/cohortly/core"
	"github.com/cohortly/cohortly/core/user"
)

func TestRollbarLoggerLocalSink(t *testing.T) {
	obs, logs := observer.New(zap.DebugLevel)
	conf := testConfig()
	logger := NewRollbarLogger(zap.New(obs), conf)

	usr := user.User{ID: "u1", Username: "jdoe"}
	logger.Error("saving batch", errors.New("boom"), usr, map[string]interface{}{"batch_id": "b1"})
	logger.Info("started")

	entries := logs.AllUntimed()
	if assert.Len(t, entries, 2) {
		ctx := entries[0].ContextMap()
		assert.Equal(t, "saving batch", entries[0].Message)
		assert.Equal(t, "u1", ctx["user_id"])
		assert.Equal(t, "b1", ctx["batch_id"])
		assert.Equal(t, "boom", ctx["error"])
		assert.Equal(t, "started", entries[1].Message)
	}
}

func testConfig() *core.Config {
	return core.NewTestConfig()
}
