package web

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderDashboard(t *testing.T) {
	var buf bytes.Buffer
	err := Render(&buf, "dashboard", map[string]any{
		"Title":   "relay",
		"Waiting": 2,
		"Paired":  int64(5),
		"Expired": int64(1),
		"Normal":  int64(3),
		"Errored": int64(1),
		"Idle":    int64(1),
	})
	require.NoError(t, err)
	out := buf.String()
	assert.Contains(t, out, "<title>relay</title>")
	assert.Contains(t, out, "5 (3 normal, 1 error, 1 idle)")
}

func TestRenderUnknownTemplate(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, Render(&buf, "missing", nil))
}
