package alerts

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradepulse/core/internal/domain"
)

func TestEmitterAppendsJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts.jsonl")
	e := NewEmitter(path)
	handler := e.Handler()

	handler(domain.RiskWarning, domain.RiskMetricsSnapshot{
		Timestamp:   time.Now().UTC(),
		DrawdownPct: 2.9,
		RiskLevel:   "WARNING",
	})
	handler(domain.RiskCritical, domain.RiskMetricsSnapshot{
		Timestamp:   time.Now().UTC(),
		DrawdownPct: 3.7,
		RiskLevel:   "CRITICAL",
	})

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	var records []Record
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var rec Record
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		records = append(records, rec)
	}
	require.NoError(t, scanner.Err())

	require.Len(t, records, 2)
	assert.Equal(t, "WARNING", records[0].Level)
	assert.Equal(t, "CRITICAL", records[1].Level)
	assert.InDelta(t, 3.7, records[1].DrawdownPct, 1e-9)
}
