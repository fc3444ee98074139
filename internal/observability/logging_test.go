package observability

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextCarriesIdentity(t *testing.T) {
	ctx := context.Background()
	ctx = WithUser(ctx, "u-100")
	ctx = WithSession(ctx, "sess-1")
	ctx = WithProducer(ctx, "foreground")
	ctx = WithFence(ctx, 7)

	lc := GetContext(ctx)
	assert.Equal(t, "u-100", lc.UserNumber)
	assert.Equal(t, "sess-1", lc.SessionID)
	assert.Equal(t, "foreground", lc.Producer)
	assert.Equal(t, 7, lc.FenceID)
}

func TestLaterValuesDoNotClobberEarlierOnes(t *testing.T) {
	ctx := WithUser(context.Background(), "u-100")
	ctx = WithFence(ctx, 3)

	lc := GetContext(ctx)
	assert.Equal(t, "u-100", lc.UserNumber)
	assert.Equal(t, 3, lc.FenceID)
}

func TestEmptyContext(t *testing.T) {
	lc := GetContext(context.Background())
	assert.Empty(t, lc.UserNumber)
	assert.Empty(t, lc.SessionID)
}

func TestContextHandlerInjectsAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewContextHandler(slog.NewJSONHandler(&buf, nil)))

	ctx := WithSession(WithUser(context.Background(), "u-100"), "sess-1")
	logger.InfoContext(ctx, "fence entered", slog.Int("fence_id", 7))

	out := buf.String()
	require.Contains(t, out, `"user":"u-100"`)
	require.Contains(t, out, `"session":"sess-1"`)
	require.Contains(t, out, `"fence_id":7`)
}

func TestContextHandlerPlainContext(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewContextHandler(slog.NewJSONHandler(&buf, nil)))

	logger.Info("no identity")

	assert.NotContains(t, buf.String(), `"user"`)
}
