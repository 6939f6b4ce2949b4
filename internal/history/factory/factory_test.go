package factory

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFactoryDSNTypes(t *testing.T) {
	tests := []struct {
		name        string
		dsn         string
		expectError bool
	}{
		{"Empty DSN", "", true},
		{"Invalid scheme", "invalid://test", true},
		{"OpenSearch DSN", "opensearch://localhost:9200/server-logs", false},
		{"SQLite file DSN", "sqlite://" + filepath.Join(t.TempDir(), "h.db"), false},
		{"SQLite memory DSN", "sqlite://:memory:", false},
		{"SQLite bare path", filepath.Join(t.TempDir(), "bare.db"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink, err := NewSinkFromDSN(tt.dsn)
			if tt.expectError {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, sink)
			if closer, ok := sink.(interface{ Close() error }); ok {
				_ = closer.Close()
			}
		})
	}
}

func TestClickHouseParams(t *testing.T) {
	host, db, table, err := clickHouseParams("clickhouse://ch:9000?database=ops&table=events")
	require.NoError(t, err)
	require.Equal(t, "ch:9000", host)
	require.Equal(t, "ops", db)
	require.Equal(t, "events", table)

	host, db, table, err = clickHouseParams("clickhouse://")
	require.NoError(t, err)
	require.Equal(t, "localhost:9000", host)
	require.Empty(t, db)
	require.Equal(t, "server_history", table)
}

func TestOpenSearchParams(t *testing.T) {
	base, index, err := openSearchParams("opensearch://search:9200/logs")
	require.NoError(t, err)
	require.Equal(t, "http://search:9200", base)
	require.Equal(t, "logs", index)

	base, index, err = openSearchParams("elasticsearch://search:9200?tls=true")
	require.NoError(t, err)
	require.Equal(t, "https://search:9200", base)
	require.Equal(t, "server-history", index)

	_, _, err = openSearchParams("opensearch:///idx")
	require.Error(t, err)
}

func TestNewSinksFromDSNs(t *testing.T) {
	sinks, err := NewSinksFromDSNs([]string{"", "sqlite://:memory:", " "})
	require.NoError(t, err)
	require.Len(t, sinks, 1)

	_, err = NewSinksFromDSNs([]string{"sqlite://:memory:", "bogus://x"})
	require.Error(t, err)
}
