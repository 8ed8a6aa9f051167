package stores

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore("https://files.example.com/")

	require.NoError(t, s.Write(ctx, "a/b.png", strings.NewReader("png"), 3, "image/png"))
	ok, err := s.Exists(ctx, "a/b.png")
	require.NoError(t, err)
	assert.True(t, ok)

	rc, size, err := s.Read(ctx, "a/b.png")
	require.NoError(t, err)
	data, _ := io.ReadAll(rc)
	assert.Equal(t, int64(3), size)
	assert.Equal(t, "png", string(data))
	assert.Equal(t, "https://files.example.com/a/b.png", s.PublicURL("a/b.png"))

	require.NoError(t, s.Delete(ctx, "a/b.png"))
	_, _, err = s.Read(ctx, "a/b.png")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMinioPublicURL(t *testing.T) {
	tests := []struct {
		name string
		cfg  MinioConfig
		want string
	}{
		{"base url", MinioConfig{Endpoint: "minio:9000", Bucket: "att", BaseURL: "https://cdn.example.com/"}, "https://cdn.example.com/k.jpg"},
		{"plain endpoint", MinioConfig{Endpoint: "minio:9000", Bucket: "att"}, "http://minio:9000/att/k.jpg"},
		{"tls endpoint", MinioConfig{Endpoint: "s3.example.com", Bucket: "att", UseSSL: true}, "https://s3.example.com/att/k.jpg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewMinioStore(tt.cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, s.PublicURL("k.jpg"))
		})
	}
}
