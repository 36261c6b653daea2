package producer

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestCommandGenerator(t *testing.T) {
	requireShell(t)

	t.Run("round trips the JSON contract", func(t *testing.T) {
		// Echo back the request's system message to prove stdin was delivered.
		script := `read -r line; case "$line" in *'"system":"sys"'*) echo '{"text":"saw system","model":"sh","token_usage":{"total_tokens":7}}';; *) echo '{"text":"missing"}';; esac`
		g, err := NewCommandGenerator([]string{"sh", "-c", script}, "")
		require.NoError(t, err)

		resp, err := g.Generate(context.Background(), "prompt", "sys", WithJSONResponse())
		require.NoError(t, err)
		assert.Equal(t, "saw system", resp.Text)
		assert.Equal(t, "sh", resp.Model)
		assert.Equal(t, 7, resp.TokenUsage.TotalTokens)
	})

	t.Run("non-zero exit reports stderr", func(t *testing.T) {
		g, err := NewCommandGenerator([]string{"sh", "-c", "echo quota exceeded >&2; exit 3"}, "")
		require.NoError(t, err)

		_, err = g.Generate(context.Background(), "p", "s")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "code 3")
		assert.Contains(t, err.Error(), "quota exceeded")
	})

	t.Run("invalid output", func(t *testing.T) {
		g, err := NewCommandGenerator([]string{"sh", "-c", "cat >/dev/null; echo not-json"}, "")
		require.NoError(t, err)
		_, err = g.Generate(context.Background(), "p", "s")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid command response JSON")
	})

	t.Run("missing text", func(t *testing.T) {
		g, err := NewCommandGenerator([]string{"sh", "-c", `cat >/dev/null; echo '{"model":"x"}'`}, "")
		require.NoError(t, err)
		_, err = g.Generate(context.Background(), "p", "s")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "text is required")
	})

	t.Run("killed on context timeout", func(t *testing.T) {
		g, err := NewCommandGenerator([]string{"sh", "-c", "sleep 5"}, "")
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		start := time.Now()
		_, err = g.Generate(ctx, "p", "s")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "interrupted")
		assert.Less(t, time.Since(start), 3*time.Second)
	})

	t.Run("rejects empty command", func(t *testing.T) {
		_, err := NewCommandGenerator(nil, "")
		assert.Error(t, err)
	})
}
