package media

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shorts-relay/internal/config"
	"github.com/shorts-relay/internal/platform"
	"github.com/shorts-relay/pkg/logger"
)

func outputTemplate(args []string) string {
	for i, a := range args {
		if a == "-o" && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func TestDownloadReturnsArtifactPath(t *testing.T) {
	dir := t.TempDir()
	var gotArgs []string
	run := func(_ context.Context, name string, args ...string) ([]byte, error) {
		assert.Equal(t, "yt-dlp", name)
		gotArgs = args
		tmpl := outputTemplate(args)
		return nil, os.WriteFile(filepath.Join(filepath.Dir(tmpl), "abc_123.mp4"), []byte("video"), 0o600)
	}
	d := NewDownloader(config.PipelineConfig{WorkDir: dir}, run, logger.Nop())

	path, err := d.Download(context.Background(), "https://www.youtube.com/shorts/abc_123", "abc_123")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "abc_123.mp4"), path)
	assert.Equal(t, "https://www.youtube.com/shorts/abc_123", gotArgs[len(gotArgs)-1])
	assert.Contains(t, gotArgs, "--no-playlist")
}

func TestDownloadFailureRemovesPartialFiles(t *testing.T) {
	dir := t.TempDir()
	run := func(_ context.Context, _ string, args ...string) ([]byte, error) {
		tmpl := outputTemplate(args)
		require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(tmpl), "vid.f137.mp4"), []byte("half"), 0o600))
		return nil, errors.New("yt-dlp: exit status 1: HTTP Error 403")
	}
	d := NewDownloader(config.PipelineConfig{WorkDir: dir}, run, logger.Nop())

	_, err := d.Download(context.Background(), "https://example.com/v", "vid")
	assert.ErrorContains(t, err, "403")

	matches, _ := filepath.Glob(filepath.Join(dir, "vid.*"))
	assert.Empty(t, matches)
}

func TestDownloadRejectsUnsafeIDs(t *testing.T) {
	called := false
	run := func(context.Context, string, ...string) ([]byte, error) {
		called = true
		return nil, nil
	}
	d := NewDownloader(config.PipelineConfig{WorkDir: t.TempDir()}, run, logger.Nop())

	for _, id := range []string{"", "../etc/passwd", "a b", "x/y"} {
		_, err := d.Download(context.Background(), "https://example.com/v", id)
		assert.Error(t, err, id)
	}
	assert.False(t, called)
}

func TestDownloadWithoutOutputFails(t *testing.T) {
	run := func(context.Context, string, ...string) ([]byte, error) { return nil, nil }
	d := NewDownloader(config.PipelineConfig{WorkDir: t.TempDir()}, run, logger.Nop())

	_, err := d.Download(context.Background(), "https://example.com/v", "vid")
	assert.ErrorContains(t, err, "no file")
}

const verticalStreams = `{
  "streams": [
    {"codec_type": "audio", "duration": "31.0"},
    {"codec_type": "video", "width": 1080, "height": 1920, "duration": "30.5"}
  ],
  "format": {"duration": "31.02"}
}`

func TestParseStreams(t *testing.T) {
	info, err := ParseStreams([]byte(verticalStreams))
	require.NoError(t, err)
	assert.Equal(t, platform.MediaInfo{Width: 1080, Height: 1920, Duration: 31.02}, info)

	rotated := `{"streams":[{"codec_type":"video","width":1920,"height":1080,"duration":"12","side_data_list":[{"rotation":-90}]}],"format":{}}`
	info, err = ParseStreams([]byte(rotated))
	require.NoError(t, err)
	assert.True(t, info.Vertical())
	assert.Equal(t, 12.0, info.Duration)

	tagged := `{"streams":[{"codec_type":"video","width":1920,"height":1080,"tags":{"rotate":"270"}}],"format":{"duration":"9"}}`
	info, err = ParseStreams([]byte(tagged))
	require.NoError(t, err)
	assert.True(t, info.Vertical())

	_, err = ParseStreams([]byte("not json"))
	assert.Error(t, err)
}

func streamsRunner(out string, err error) Runner {
	return func(_ context.Context, name string, args ...string) ([]byte, error) {
		if err != nil {
			return nil, err
		}
		return []byte(out), nil
	}
}

func TestValidate(t *testing.T) {
	cfg := config.PipelineConfig{MaxDuration: 60 * time.Second}

	tests := []struct {
		name       string
		out        string
		runErr     error
		validation bool
		wantErr    bool
	}{
		{name: "vertical short", out: verticalStreams},
		{name: "exactly sixty seconds", out: `{"streams":[{"codec_type":"video","width":720,"height":1280}],"format":{"duration":"60.2"}}`},
		{name: "horizontal", out: `{"streams":[{"codec_type":"video","width":1920,"height":1080}],"format":{"duration":"20"}}`, validation: true, wantErr: true},
		{name: "square", out: `{"streams":[{"codec_type":"video","width":1080,"height":1080}],"format":{"duration":"20"}}`, validation: true, wantErr: true},
		{name: "too long", out: `{"streams":[{"codec_type":"video","width":1080,"height":1920}],"format":{"duration":"75"}}`, validation: true, wantErr: true},
		{name: "audio only", out: `{"streams":[{"codec_type":"audio"}],"format":{"duration":"20"}}`, validation: true, wantErr: true},
		{name: "probe crashed", runErr: errors.New("ffprobe: exit status 1"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewValidator(cfg, streamsRunner(tt.out, tt.runErr), logger.Nop())
			_, err := v.Validate(context.Background(), "/tmp/x.mp4")
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			var verr *platform.ValidationError
			assert.Equal(t, tt.validation, errors.As(err, &verr))
		})
	}
}

func TestExecRunnerIncludesStderr(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires sh")
	}
	out, err := ExecRunner(context.Background(), "sh", "-c", "echo hello")
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(out))

	_, err = ExecRunner(context.Background(), "sh", "-c", "echo broken pipe >&2; exit 3")
	assert.ErrorContains(t, err, "broken pipe")
}
