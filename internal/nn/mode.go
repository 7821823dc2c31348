package nn

// Mode selects train or eval behaviour when a graph is built.
// Dropout is only inserted in Train graphs; batch norm normalises with batch
// statistics in Train graphs and with running statistics in Eval graphs.
type Mode int

const (
	// Train builds graphs with dropout, batch statistics and gradients.
	Train Mode = iota
	// Eval builds inference graphs.
	Eval
)

func (m Mode) String() string {
	switch m {
	case Train:
		return "train"
	case Eval:
		return "eval"
	default:
		return "unknown"
	}
}
