package chunk

// Settings configures chunking behavior. All sizes are expressed in tokens.
type Settings struct {
	Size      int
	Overlap   int
	MinTokens int
	MaxChunks int
}

// section is a labeled region of the normalized document text.
type section struct {
	label  string
	offset int
	text   string
}
