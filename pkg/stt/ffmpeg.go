package stt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"github.com/rs/zerolog"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// a chunk no larger than its WAV header carries no audio
const wavHeaderSize = 44

const defaultPollInterval = 500 * time.Millisecond

// FFmpegOpener captures a broadcast with ffmpeg, cutting it into fixed length
// 16kHz mono WAV chunks that are transcribed one at a time.
type FFmpegOpener struct {
	ffmpegPath  string
	workDir     string
	transcriber Transcriber
	archiver    Archiver
}

// NewFFmpegOpener returns an opener. archiver may be nil.
func NewFFmpegOpener(ffmpegPath, workDir string, transcriber Transcriber, archiver Archiver) *FFmpegOpener {
	return &FFmpegOpener{
		ffmpegPath:  ffmpegPath,
		workDir:     workDir,
		transcriber: transcriber,
		archiver:    archiver,
	}
}

func (o *FFmpegOpener) Open(ctx context.Context, token string, opts Options) (Stream, error) {
	if !strings.Contains(token, "://") {
		return nil, fmt.Errorf("%w: %q is not a stream url", ErrOpen, token)
	}
	if opts.SegmentDuration <= 0 {
		return nil, fmt.Errorf("%w: segment duration must be positive", ErrOpen)
	}

	if err := os.MkdirAll(o.workDir, 0o755); err != nil {
		return nil, errors.Join(ErrOpen, err)
	}
	dir, err := os.MkdirTemp(o.workDir, "live-")
	if err != nil {
		return nil, errors.Join(ErrOpen, err)
	}

	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-reconnect", "1", "-reconnect_streamed", "1",
		"-i", token,
		"-vn", "-ac", "1", "-ar", "16000", "-c:a", "pcm_s16le",
		"-f", "segment",
		"-segment_time", strconv.FormatFloat(opts.SegmentDuration.Seconds(), 'f', -1, 64),
		"-reset_timestamps", "1",
		filepath.Join(dir, "chunk_%05d.wav"),
	}

	procCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(procCtx, o.ffmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		cancel()
		os.RemoveAll(dir)
		return nil, errors.Join(ErrOpen, err)
	}

	exited := make(chan struct{})
	s := newChunkStream(dir, opts, o.transcriber, o.archiver, exited, cancel)

	go func() {
		err := cmd.Wait()
		if err != nil && procCtx.Err() == nil {
			s.exitErr = fmt.Errorf("ffmpeg: %w: %s", err, strings.TrimSpace(stderr.String()))
		}
		close(exited)
	}()

	zerolog.Ctx(ctx).Debug().
		Str("dir", dir).
		Dur("segment_duration", opts.SegmentDuration).
		Msg("capture started")

	return s, nil
}

type chunkStream struct {
	dir         string
	opts        Options
	transcriber Transcriber
	archiver    Archiver
	pollEvery   time.Duration

	exited  <-chan struct{}
	exitErr error // written before exited is closed
	cancel  context.CancelFunc

	next    int
	emitted int
	started time.Time

	closeOnce sync.Once
}

func newChunkStream(dir string, opts Options, transcriber Transcriber, archiver Archiver, exited <-chan struct{}, cancel context.CancelFunc) *chunkStream {
	return &chunkStream{
		dir:         dir,
		opts:        opts,
		transcriber: transcriber,
		archiver:    archiver,
		pollEvery:   defaultPollInterval,
		exited:      exited,
		cancel:      cancel,
		started:     time.Now(),
	}
}

func chunkPath(dir string, n int) string {
	return filepath.Join(dir, fmt.Sprintf("chunk_%05d.wav", n))
}

func (s *chunkStream) Next(ctx context.Context) Outcome {
	for {
		if ctx.Err() != nil {
			return s.complete(nil)
		}

		current, ready, done := s.poll()
		if done {
			return s.complete(s.exitErr)
		}
		if !ready {
			select {
			case <-ctx.Done():
			case <-s.exited:
			case <-time.After(s.pollEvery):
			}
			continue
		}

		chunk := s.next
		s.next++
		capturedAt := time.Now().UTC()

		text, err := s.transcribeChunk(ctx, chunk, current)
		os.Remove(current)
		if err != nil {
			if ctx.Err() != nil {
				return s.complete(nil)
			}
			return Outcome{Kind: OutcomeError, Err: fmt.Errorf("chunk %d: %w", chunk, err), Stats: s.stats()}
		}
		if text == "" {
			continue
		}

		seg := Segment{Index: s.opts.FirstIndex + s.emitted, Text: text, CapturedAt: capturedAt}
		s.emitted++
		return Outcome{Kind: OutcomeSegment, Segment: seg, Stats: s.stats()}
	}
}

// poll reports whether the current chunk is finished. ffmpeg only moves to the
// next chunk once the previous one is flushed, so a chunk is ready when its
// successor exists or the process is gone.
func (s *chunkStream) poll() (current string, ready, done bool) {
	current = chunkPath(s.dir, s.next)
	exited := isClosed(s.exited)

	info, err := os.Stat(current)
	if err != nil {
		return current, false, exited
	}
	if exited {
		if info.Size() <= wavHeaderSize {
			os.Remove(current)
			return current, false, true
		}
		return current, true, false
	}
	if _, err := os.Stat(chunkPath(s.dir, s.next+1)); err == nil {
		return current, true, false
	}
	return current, false, false
}

func (s *chunkStream) transcribeChunk(ctx context.Context, chunk int, file string) (string, error) {
	if s.archiver != nil && s.opts.SessionKey != "" {
		key := path.Join(s.opts.SessionKey, fmt.Sprintf("%d_%05d.wav", s.started.UnixMilli(), chunk))
		if err := s.archiver.Archive(ctx, key, file); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("failed to archive chunk")
		}
	}

	f, err := os.Open(file)
	if err != nil {
		return "", err
	}
	defer f.Close()

	text, err := s.transcriber.Transcribe(ctx, f, filepath.Base(file), s.opts)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func (s *chunkStream) complete(err error) Outcome {
	return Outcome{Kind: OutcomeComplete, Err: err, Stats: s.stats()}
}

func (s *chunkStream) stats() Stats {
	return Stats{
		Segments: s.emitted,
		Chunks:   s.next,
		Duration: time.Since(s.started),
	}
}

// Close stops the capture process and removes its chunks. Safe to call more
// than once and concurrently with a pending Next.
func (s *chunkStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.exited
		err = os.RemoveAll(s.dir)
	})
	return err
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
