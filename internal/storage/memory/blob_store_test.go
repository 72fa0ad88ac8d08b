package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte(`[{"title":"a"}]`)
	uri, err := store.PutObject(context.Background(), "raw/c1/service-3000/abc.json", "application/json", payload)
	require.NoError(t, err)
	require.Equal(t, "memory://raw/c1/service-3000/abc.json", uri)

	payload[0] = '{'
	got, ok := store.Object("raw/c1/service-3000/abc.json")
	require.True(t, ok)
	require.Equal(t, `[{"title":"a"}]`, string(got))
	require.Equal(t, []string{"raw/c1/service-3000/abc.json"}, store.Paths())
}
