package log

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestCtxLoggerChainsLevelMethods(t *testing.T) {
	var buf bytes.Buffer
	ctx := WithLogger(context.Background(), zerolog.New(&buf))

	Ctx(ctx).Info().Str(FieldRoomID, "room-a").Msg("joined")
	Ctx(ctx).Warn().Msg("slow")

	out := buf.String()
	require.Contains(t, out, `"room_id":"room-a"`)
	require.Contains(t, out, `"message":"joined"`)
	require.Contains(t, out, `"level":"warn"`)
}

func TestCtxFallsBackToGlobal(t *testing.T) {
	require.NotNil(t, Ctx(context.Background()))
	// Chaining off the global accessor must work without a local variable.
	L().Debug().Msg("noop")
}

func TestInitSetsLevel(t *testing.T) {
	logger := New(Config{Level: "warn", ServiceName: "test-svc"})
	require.Equal(t, zerolog.WarnLevel, logger.GetLevel())

	logger = New(Config{Level: "nonsense"})
	require.Equal(t, zerolog.InfoLevel, logger.GetLevel())
}
