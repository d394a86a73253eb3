package cli

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTriggerRejectsUnknownJob(t *testing.T) {
	cli, err := NewJobsCLI("127.0.0.1:0")
	require.NoError(t, err)
	defer cli.Close()

	_, err = cli.Trigger(context.Background(), "finance:close_books")
	require.ErrorContains(t, err, "unsupported job")
}

func TestTriggerRequiresClient(t *testing.T) {
	var cli *JobsCLI
	_, err := cli.Trigger(context.Background(), "ledger:expiry_sweep")
	require.ErrorContains(t, err, "not configured")

	_, err = cli.InspectQueue(context.Background())
	require.ErrorContains(t, err, "not configured")
}
