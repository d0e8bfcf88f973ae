package ytdlp

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/bnema/vidpipe/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectFormat(t *testing.T) {
	tests := []struct {
		quality  domain.Quality
		contains string
	}{
		{domain.Quality360p, "height<=360"},
		{domain.Quality480p, "height<=480"},
		{domain.Quality720p, "height<=720"},
		{domain.Quality1080p, "height<=1080"},
		{domain.QualityAudio48k, "worstaudio"},
		{domain.QualityAudio128k, "bestaudio[ext=m4a]"},
		{domain.Quality(""), "height<=480"},
	}

	for _, tt := range tests {
		t.Run(string(tt.quality), func(t *testing.T) {
			assert.Contains(t, selectFormat(tt.quality), tt.contains)
		})
	}
}

func TestParseInfo(t *testing.T) {
	t.Run("top level url", func(t *testing.T) {
		res, err := parseInfo([]byte(`{"id":"abc","title":" Big Buck Bunny ","url":"https://rr1.googlevideo.com/v","ext":"mp4","filesize":1234}`))
		require.NoError(t, err)
		assert.Equal(t, "https://rr1.googlevideo.com/v", res.URL)
		assert.Equal(t, "Big Buck Bunny", res.Title)
		assert.Equal(t, int64(1234), res.SizeBytes)
		assert.Equal(t, "mp4", res.Ext)
	})

	t.Run("requested downloads fallback", func(t *testing.T) {
		res, err := parseInfo([]byte(`{"id":"abc","title":"","requested_downloads":[{"url":"https://cdn/v","ext":"m4a","filesize":null,"filesize_approx":99.7}]}`))
		require.NoError(t, err)
		assert.Equal(t, "https://cdn/v", res.URL)
		assert.Equal(t, "abc", res.Title)
		assert.Equal(t, int64(99), res.SizeBytes)
		assert.Equal(t, "m4a", res.Ext)
	})

	t.Run("no url", func(t *testing.T) {
		_, err := parseInfo([]byte(`{"id":"abc","title":"x"}`))
		assert.ErrorIs(t, err, domain.ErrResolutionFailed)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := parseInfo([]byte(`not json`))
		assert.ErrorIs(t, err, domain.ErrResolutionFailed)
	})
}

func fakeYtdlp(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported")
	}
	path := filepath.Join(t.TempDir(), "yt-dlp")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755))
	return path
}

func TestResolver_Resolve(t *testing.T) {
	tool := fakeYtdlp(t, `echo '{"id":"x1","title":"Clip","url":"https://cdn.example.com/x1.mp4","ext":"mp4","filesize_approx":2048}'`)
	r := NewResolver(tool)
	require.NoError(t, r.Available())

	res, err := r.Resolve(context.Background(), "https://youtu.be/x1", domain.Quality720p)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/x1.mp4", res.URL)
	assert.Equal(t, int64(2048), res.SizeBytes)
}

func TestResolver_ResolveFailure(t *testing.T) {
	tool := fakeYtdlp(t, "echo 'WARNING: something' >&2\necho 'ERROR: Video unavailable' >&2\nexit 1\n")
	r := NewResolver(tool)

	_, err := r.Resolve(context.Background(), "https://youtu.be/gone", domain.Quality480p)
	require.ErrorIs(t, err, domain.ErrResolutionFailed)
	assert.True(t, strings.HasSuffix(err.Error(), "ERROR: Video unavailable"), err.Error())
}

func TestResolver_ResolveCancelled(t *testing.T) {
	tool := fakeYtdlp(t, "exec sleep 30\n")
	r := NewResolver(tool)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Resolve(ctx, "https://youtu.be/slow", domain.Quality480p)
	assert.Error(t, err)
}

func TestResolver_Unavailable(t *testing.T) {
	r := NewResolver(filepath.Join(t.TempDir(), "missing-yt-dlp"))
	assert.ErrorIs(t, r.Available(), domain.ErrCapabilityUnavailable)
}
