// Package stt provides real-time speech-to-text over AssemblyAI's
// streaming API.
package stt

// StreamOptions configures a streaming transcription session.
type StreamOptions struct {
	SampleRate  int  // PCM sample rate in Hz (default 16000)
	FormatTurns bool // ask the service for punctuated/cased turn transcripts
}

// TranscriptDelta is one transcript update from the stream. Deltas with
// EndOfTurn=false are interim; EndOfTurn=true marks a completed user turn.
type TranscriptDelta struct {
	Text      string
	EndOfTurn bool
	Formatted bool // service applied punctuation and casing
}
