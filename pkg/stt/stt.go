// Package stt turns a live broadcast into an ordered stream of transcribed
// segments.
package stt

import (
	"context"
	"errors"
	"io"
	"time"
)

var ErrOpen = errors.New("failed to open transcription stream")

type Options struct {
	SegmentDuration time.Duration
	Language        string
	Model           string
	// FirstIndex is the index of the first emitted segment. A stream reopened
	// for a session continues its numbering.
	FirstIndex int
	// SessionKey names archived audio. Optional.
	SessionKey string
}

type OutcomeKind int

const (
	OutcomeSegment OutcomeKind = iota
	OutcomeError
	OutcomeComplete
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSegment:
		return "segment"
	case OutcomeError:
		return "error"
	case OutcomeComplete:
		return "complete"
	}
	return "unknown"
}

type Segment struct {
	Index      int
	Text       string
	CapturedAt time.Time
}

type Stats struct {
	Segments int
	Chunks   int
	Duration time.Duration
}

// Outcome is one step of a Stream. Segment is set for OutcomeSegment, Err for
// OutcomeError and for an OutcomeComplete caused by the source failing.
type Outcome struct {
	Kind    OutcomeKind
	Segment Segment
	Err     error
	Stats   Stats
}

// Stream yields outcomes until it reports OutcomeComplete. Segment indices are
// consecutive from zero. Next returns OutcomeComplete once ctx is done.
type Stream interface {
	Next(ctx context.Context) Outcome
	Close() error
}

// Opener attaches to a broadcast identified by token.
type Opener interface {
	Open(ctx context.Context, token string, opts Options) (Stream, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, audio io.Reader, filename string, opts Options) (string, error)
}

// Archiver keeps a copy of each captured audio chunk.
type Archiver interface {
	Archive(ctx context.Context, key, path string) error
}
