package media

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/shorts-relay/internal/config"
	"github.com/shorts-relay/internal/platform"
	"github.com/shorts-relay/pkg/logger"
)

// DefaultMaxDuration is the longest accepted short
const DefaultMaxDuration = 60 * time.Second

// durationSlack absorbs container rounding on exactly-max clips
const durationSlack = 0.5

// Validator probes downloaded media with ffprobe
type Validator struct {
	binary      string
	maxDuration time.Duration
	run         Runner
	log         *logger.Logger
}

// NewValidator creates a validator. A nil runner uses ExecRunner.
func NewValidator(cfg config.PipelineConfig, run Runner, log *logger.Logger) *Validator {
	binary := cfg.FfprobePath
	if binary == "" {
		binary = "ffprobe"
	}
	maxDuration := cfg.MaxDuration
	if maxDuration <= 0 {
		maxDuration = DefaultMaxDuration
	}
	if run == nil {
		run = ExecRunner
	}
	return &Validator{
		binary:      binary,
		maxDuration: maxDuration,
		run:         run,
		log:         log.WithComponent("media"),
	}
}

// Validate checks that the file is a vertical video within the duration limit.
// Rule violations are returned as *platform.ValidationError; ffprobe failures are plain errors.
func (v *Validator) Validate(ctx context.Context, path string) (platform.MediaInfo, error) {
	out, err := v.run(ctx, v.binary,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	if err != nil {
		return platform.MediaInfo{}, fmt.Errorf("ffprobe failed: %w", err)
	}

	info, err := ParseStreams(out)
	if err != nil {
		return platform.MediaInfo{}, err
	}
	if err := v.check(info); err != nil {
		return info, err
	}
	return info, nil
}

func (v *Validator) check(info platform.MediaInfo) error {
	if info.Width <= 0 || info.Height <= 0 {
		return &platform.ValidationError{Reason: "no video stream"}
	}
	if !info.Vertical() {
		return &platform.ValidationError{Reason: fmt.Sprintf("not vertical (%dx%d)", info.Width, info.Height)}
	}
	if info.Duration <= 0 {
		return &platform.ValidationError{Reason: "unknown duration"}
	}
	if info.Duration > v.maxDuration.Seconds()+durationSlack {
		return &platform.ValidationError{Reason: fmt.Sprintf("too long (%.1fs > %s)", info.Duration, v.maxDuration)}
	}
	return nil
}

type ffprobeOutput struct {
	Streams []ffprobeStream `json:"streams"`
	Format  struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

type ffprobeStream struct {
	CodecType    string            `json:"codec_type"`
	Width        int               `json:"width"`
	Height       int               `json:"height"`
	Duration     string            `json:"duration"`
	Tags         map[string]string `json:"tags"`
	SideDataList []struct {
		Rotation float64 `json:"rotation"`
	} `json:"side_data_list"`
}

// ParseStreams extracts display dimensions and duration from ffprobe JSON.
// Dimensions of a stream rotated by 90 or 270 degrees are swapped.
func ParseStreams(data []byte) (platform.MediaInfo, error) {
	var out ffprobeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return platform.MediaInfo{}, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	var info platform.MediaInfo
	for _, s := range out.Streams {
		if s.CodecType != "video" {
			continue
		}
		info.Width, info.Height = s.Width, s.Height
		if quarterTurn(s) {
			info.Width, info.Height = info.Height, info.Width
		}
		info.Duration = parseSeconds(s.Duration)
		break
	}
	if d := parseSeconds(out.Format.Duration); d > 0 {
		info.Duration = d
	}
	return info, nil
}

func quarterTurn(s ffprobeStream) bool {
	rotation := 0.0
	if r, err := strconv.ParseFloat(s.Tags["rotate"], 64); err == nil {
		rotation = r
	}
	for _, sd := range s.SideDataList {
		if sd.Rotation != 0 {
			rotation = sd.Rotation
		}
	}
	turns := int(rotation) / 90
	return turns%2 != 0
}

func parseSeconds(s string) float64 {
	d, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return d
}
