// Package ytdlp resolves video locators into direct media URLs with yt-dlp.
package ytdlp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/bnema/vidpipe/internal/domain"
	"github.com/bnema/vidpipe/internal/port"
)

type Resolver struct {
	binary string
}

func NewResolver(binary string) *Resolver {
	if binary == "" {
		binary = "yt-dlp"
	}
	return &Resolver{binary: binary}
}

// Available reports whether the yt-dlp binary can be found.
func (r *Resolver) Available() error {
	if _, err := exec.LookPath(r.binary); err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrCapabilityUnavailable, r.binary, err)
	}
	return nil
}

func (r *Resolver) Resolve(ctx context.Context, locator string, quality domain.Quality) (domain.Resolution, error) {
	if strings.TrimSpace(locator) == "" {
		return domain.Resolution{}, domain.ErrInvalidLocator
	}

	args := []string{
		"-J",
		"--no-playlist",
		"--no-warnings",
		"-f", selectFormat(quality),
		locator,
	}
	cmd := exec.CommandContext(ctx, r.binary, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return domain.Resolution{}, fmt.Errorf("%w: yt-dlp failed: %v: %s", domain.ErrResolutionFailed, err, lastLine(stderr.String()))
	}
	if stdout.Len() == 0 {
		return domain.Resolution{}, fmt.Errorf("%w: yt-dlp returned empty output", domain.ErrResolutionFailed)
	}
	return parseInfo(stdout.Bytes())
}

// selectFormat picks a single progressive format so the transfer tool gets
// one URL carrying both audio and video.
func selectFormat(quality domain.Quality) string {
	switch quality {
	case domain.QualityAudio48k:
		return "worstaudio[ext=m4a]/worstaudio"
	case domain.QualityAudio128k:
		return "bestaudio[ext=m4a][abr<=160]/bestaudio[ext=m4a]/bestaudio"
	}
	h := quality.Height()
	if h == 0 {
		h = domain.Quality480p.Height()
	}
	return fmt.Sprintf("best[height<=%d][ext=mp4][acodec!=none][vcodec!=none]/best[height<=%d][acodec!=none]/best", h, h)
}

type videoInfo struct {
	ID                string      `json:"id"`
	Title             string      `json:"title"`
	URL               string      `json:"url"`
	Ext               string      `json:"ext"`
	FileSize          json.Number `json:"filesize"`
	FileSizeApprox    json.Number `json:"filesize_approx"`
	RequestedDownload []struct {
		URL            string      `json:"url"`
		Ext            string      `json:"ext"`
		FileSize       json.Number `json:"filesize"`
		FileSizeApprox json.Number `json:"filesize_approx"`
	} `json:"requested_downloads"`
}

func parseInfo(data []byte) (domain.Resolution, error) {
	var info videoInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return domain.Resolution{}, fmt.Errorf("%w: parse yt-dlp output: %v", domain.ErrResolutionFailed, err)
	}

	res := domain.Resolution{
		URL:       info.URL,
		Title:     strings.TrimSpace(info.Title),
		SizeBytes: firstPositive(info.FileSize, info.FileSizeApprox),
		Ext:       info.Ext,
	}
	if len(info.RequestedDownload) > 0 {
		rd := info.RequestedDownload[0]
		if res.URL == "" {
			res.URL = rd.URL
		}
		if res.SizeBytes == 0 {
			res.SizeBytes = firstPositive(rd.FileSize, rd.FileSizeApprox)
		}
		if res.Ext == "" {
			res.Ext = rd.Ext
		}
	}

	if res.URL == "" {
		return domain.Resolution{}, fmt.Errorf("%w: no direct URL for format", domain.ErrResolutionFailed)
	}
	if res.Title == "" {
		res.Title = info.ID
	}
	return res, nil
}

// firstPositive returns the first usable size. yt-dlp prints sizes as
// integers or floats and uses null when unknown.
func firstPositive(values ...json.Number) int64 {
	for _, v := range values {
		if n := domain.ParseSize(v.String()); n > 0 {
			return n
		}
	}
	return 0
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

var _ port.Resolver = (*Resolver)(nil)
