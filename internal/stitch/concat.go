package stitch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Concatenator joins audio files, in order, into outputPath.
type Concatenator interface {
	Concat(ctx context.Context, inputs []string, outputPath string) error
	Name() string
}

// FFmpeg concatenates with ffmpeg's concat demuxer. Streams are copied, not
// re-encoded.
type FFmpeg struct {
	Path string
}

func (f FFmpeg) Name() string { return "ffmpeg" }

func (f FFmpeg) Concat(ctx context.Context, inputs []string, outputPath string) error {
	if len(inputs) == 0 {
		return fmt.Errorf("no input files provided")
	}

	listPath := outputPath + ".txt"
	var lines []string
	for _, in := range inputs {
		// concat demuxer quoting
		escaped := strings.ReplaceAll(in, "'", "'\\''")
		lines = append(lines, fmt.Sprintf("file '%s'", escaped))
	}
	if err := os.WriteFile(listPath, []byte(strings.Join(lines, "\n")), 0o644); err != nil {
		return fmt.Errorf("failed to create concat list: %w", err)
	}
	defer os.Remove(listPath)

	bin := f.Path
	if bin == "" {
		bin = "ffmpeg"
	}
	cmd := exec.CommandContext(ctx, bin,
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c", "copy",
		"-y",
		outputPath,
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg failed: %w\nOutput: %s", err, string(output))
	}
	return nil
}

// ByteConcat appends MP3 files frame stream to frame stream. Players accept
// the result, though ID3 headers from later parts end up mid-stream.
type ByteConcat struct{}

func (ByteConcat) Name() string { return "bytes" }

func (ByteConcat) Concat(ctx context.Context, inputs []string, outputPath string) error {
	if len(inputs) == 0 {
		return fmt.Errorf("no input files provided")
	}
	out, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(outputPath), err)
	}
	for _, in := range inputs {
		if err := ctx.Err(); err != nil {
			out.Close()
			return err
		}
		if err := appendFile(out, in); err != nil {
			out.Close()
			return err
		}
	}
	return out.Close()
}

func appendFile(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("append %s: %w", filepath.Base(path), err)
	}
	return nil
}

// SelectConcatenator returns ffmpeg when it can be found, falling back to byte
// concatenation only when allowed.
func SelectConcatenator(ffmpegPath string, allowByteConcat bool, logger *slog.Logger) (Concatenator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	bin := ffmpegPath
	if bin == "" {
		bin = "ffmpeg"
	}
	resolved, err := exec.LookPath(bin)
	if err == nil {
		return FFmpeg{Path: resolved}, nil
	}
	if allowByteConcat {
		logger.Warn("ffmpeg not found, stitching by byte concatenation", "ffmpeg_path", bin)
		return ByteConcat{}, nil
	}
	return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
}
