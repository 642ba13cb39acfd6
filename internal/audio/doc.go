// Package audio runs local audio-output programs (ffplay, mpv, afplay,
// paplay, aplay or a configured command). A Sink owns at most one running
// player, fed either on stdin or with a file path, and guarantees the process
// is reaped on every exit path.
package audio
