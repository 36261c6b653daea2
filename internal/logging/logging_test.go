package logging

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew(t *testing.T) {
	t.Run("accepts known levels and formats", func(t *testing.T) {
		for _, format := range []string{"", "json", "console"} {
			l, err := New("debug", format)
			require.NoError(t, err)
			assert.True(t, l.Core().Enabled(zap.DebugLevel))
		}
	})

	t.Run("rejects bad level", func(t *testing.T) {
		_, err := New("loud", "json")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid log level")
	})

	t.Run("rejects bad format", func(t *testing.T) {
		_, err := New("info", "xml")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid log format")
	})
}

func TestAuditLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	a, err := NewAudit(path)
	require.NoError(t, err)

	a.Event(AuditVaultAppend, zap.String("kind", "input"), zap.Int64("id", 1))
	a.Event(AuditPolicyFinding, zap.String("rule", "SAFETY-001"))
	require.NoError(t, a.Sync())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var events []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var ev map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &ev))
		events = append(events, ev)
	}
	require.Len(t, events, 2)
	assert.Equal(t, "vault_append", events[0]["event"])
	assert.Equal(t, "input", events[0]["kind"])
	assert.Equal(t, "SAFETY-001", events[1]["rule"])
}

func TestNilAuditIsNoop(t *testing.T) {
	var a *AuditLogger
	a.Event(AuditPipelineStart)
	assert.NoError(t, a.Sync())
	NopAudit().Event(AuditPipelineStart)
}
