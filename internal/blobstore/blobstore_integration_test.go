package blobstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startNATS(ctx context.Context, t *testing.T) string {
	t.Helper()
	req := testcontainers.ContainerRequest{
		Image:        "nats:2.10-alpine",
		ExposedPorts: []string{"4222/tcp"},
		WaitingFor:   wait.ForListeningPort("4222/tcp"),
		Cmd:          []string{"-js"},
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "4222")
	require.NoError(t, err)

	// give JetStream a moment to come up
	time.Sleep(200 * time.Millisecond)
	return fmt.Sprintf("nats://%s:%s", host, port.Port())
}

func TestIntegration_Store(t *testing.T) {
	if os.Getenv("INTEGRATION_TESTS") == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run against a NATS container")
	}
	ctx := context.Background()
	url := startNATS(ctx, t)

	store, err := Connect(ctx, url, "input-files-test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Ping())

	key := "pipelines/p/input_files/f/data.csv"
	n, err := store.Put(ctx, key, strings.NewReader("a,b\n1,2\n"))
	require.NoError(t, err)
	assert.Equal(t, int64(8), n)

	// overwriting the same key is allowed
	n, err = store.Put(ctx, key, strings.NewReader("a,b\n"))
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	rc, err := store.Open(ctx, key)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "a,b\n", string(data))

	_, err = store.Open(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Delete(ctx, key))
	_, err = store.Open(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)

	// reopening finds the existing bucket
	again, err := Connect(ctx, url, "input-files-test")
	require.NoError(t, err)
	require.NoError(t, again.Close())
}
