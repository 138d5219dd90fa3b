package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteStatsAlignsColumns(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteStats(&buf, QueueStats{Queue: "default", Pending: 3, Retry: 1}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	require.True(t, strings.HasPrefix(lines[0], "QUEUE"))
	require.Equal(t, []string{"default", "3", "0", "0", "1", "0"}, strings.Fields(lines[1]))
}

func TestNilCLIReportsMissingClient(t *testing.T) {
	var c *JobsCLI
	_, err := c.Reconcile(t.Context(), false)
	require.Error(t, err)
	_, err = c.InspectQueue()
	require.Error(t, err)
}
