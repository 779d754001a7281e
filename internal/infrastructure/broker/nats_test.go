package broker

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestNATS_Compliance(t *testing.T) {
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("requires NATS_URL")
	}

	runComplianceTests(t, func(t *testing.T, opts Options) Broker {
		id := strings.ReplaceAll(uuid.NewString(), "-", "")
		b, err := ConnectNATS(context.Background(), url, "TEST_"+id, "test."+id+".uploads", opts)
		require.NoError(t, err)
		t.Cleanup(func() { _ = b.Close() })
		return b
	})
}
