package lens

// Status is the single query through which setup failures and drop
// accounting become visible to the host.
type Status struct {
	Enabled       bool
	State         string
	Err           error
	Path          string
	Generation    uint64
	Threads       int
	Dropped       uint64
	LabelOverflow uint64
}

// Label is a pre-interned event label. Using a Label instead of a string
// keeps the map lookup off the hot path.
type Label struct {
	id   uint32
	text string
}

// String returns the label text.
func (l Label) String() string {
	return l.text
}
