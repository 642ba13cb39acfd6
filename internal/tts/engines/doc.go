// Package engines provides the synthesis backends: piper (local binary),
// gtts (gtts-cli), and openai (HTTP streaming). Each implements
// ttypes.Provider and is selected by name through a Registry.
package engines
