package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTableName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		fallback string
		want     string
		wantErr  bool
	}{
		{name: "fallback", input: "", fallback: "enrichment_queue", want: "enrichment_queue"},
		{name: "explicit", input: "jobs_v2", fallback: "enrichment_queue", want: "jobs_v2"},
		{name: "injection", input: "jobs; DROP TABLE x", fallback: "enrichment_queue", wantErr: true},
		{name: "leading digit", input: "1jobs", fallback: "x", wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := TableName(tt.input, tt.fallback)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestConnectValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := Connect(context.Background(), PoolConfig{})
	require.ErrorContains(t, err, "database.dsn is required")

	_, err = Connect(context.Background(), PoolConfig{DSN: "://not a dsn"})
	require.ErrorContains(t, err, "parse postgres dsn")
}
