package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/shorts-relay/internal/config"
	"github.com/shorts-relay/pkg/logger"
)

// DefaultDownloadTimeout bounds one yt-dlp run
const DefaultDownloadTimeout = 5 * time.Minute

// ytdlpFormat prefers a single mp4 file so no remux is needed
const ytdlpFormat = "bv*[ext=mp4]+ba[ext=m4a]/b[ext=mp4]/b"

var artifactID = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Downloader fetches a source short into the work directory with yt-dlp
type Downloader struct {
	binary  string
	workDir string
	timeout time.Duration
	run     Runner
	log     *logger.Logger
}

// NewDownloader creates a downloader. A nil runner uses ExecRunner.
func NewDownloader(cfg config.PipelineConfig, run Runner, log *logger.Logger) *Downloader {
	binary := cfg.YtDlpPath
	if binary == "" {
		binary = "yt-dlp"
	}
	workDir := cfg.WorkDir
	if workDir == "" {
		workDir = filepath.Join(os.TempDir(), "shorts-relay")
	}
	timeout := cfg.DownloadTimeout
	if timeout <= 0 {
		timeout = DefaultDownloadTimeout
	}
	if run == nil {
		run = ExecRunner
	}
	return &Downloader{
		binary:  binary,
		workDir: workDir,
		timeout: timeout,
		run:     run,
		log:     log.WithComponent("media"),
	}
}

// Download stores the video at url as <workDir>/<id>.<ext> and returns the path
func (d *Downloader) Download(ctx context.Context, url, id string) (string, error) {
	if !artifactID.MatchString(id) {
		return "", fmt.Errorf("invalid artifact id %q", id)
	}
	if err := os.MkdirAll(d.workDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create work dir: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	template := filepath.Join(d.workDir, id+".%(ext)s")
	start := time.Now()
	_, err := d.run(ctx, d.binary,
		"--no-playlist",
		"--no-progress",
		"--no-part",
		"-f", ytdlpFormat,
		"--merge-output-format", "mp4",
		"-o", template,
		url,
	)
	if err != nil {
		d.cleanup(id)
		return "", err
	}

	path, err := d.find(id)
	if err != nil {
		return "", err
	}
	d.log.Debug().
		Str("path", path).
		Dur("took", time.Since(start)).
		Msg("Downloaded source video")
	return path, nil
}

func (d *Downloader) find(id string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(d.workDir, id+".*"))
	if err != nil {
		return "", err
	}
	for _, m := range matches {
		if strings.HasSuffix(m, ".part") || strings.HasSuffix(m, ".ytdl") {
			continue
		}
		return m, nil
	}
	return "", fmt.Errorf("download produced no file for %s", id)
}

// cleanup removes partial artifacts of a failed download
func (d *Downloader) cleanup(id string) {
	matches, _ := filepath.Glob(filepath.Join(d.workDir, id+".*"))
	for _, m := range matches {
		if err := os.Remove(m); err != nil && !os.IsNotExist(err) {
			d.log.Warn().Err(err).Str("path", m).Msg("Failed to remove partial download")
		}
	}
}
