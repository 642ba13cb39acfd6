// Package voicecache implements the long-lived voice cache server and the
// client used by short-lived speak invocations to reach it.
//
// The server keeps loaded voice models in a table keyed by canonical path and
// answers one cacheproto command per TCP connection. The client probes for a
// running server and spawns one in the background when none answers.
package voicecache
