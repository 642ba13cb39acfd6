package ui

// Voice is one browsable voice.
type Voice struct {
	// Name is what the list shows and the filter matches.
	Name string

	// Provider is the registry name the preview plays through.
	Provider string

	// ID is passed to the provider as the request voice: a model path for
	// piper voices, a voice name for remote ones.
	ID string
}

// Config contains TUI-specific configuration.
type Config struct {
	Voices []Voice

	// SampleText is spoken for every preview.
	SampleText string

	EnableMouse bool

	// DarkBackground picks the palette; detected from the terminal when nil.
	DarkBackground *bool
}
