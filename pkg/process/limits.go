package process

// Limits bounds the resources of one process.
type Limits struct {
	// MaxFiles is the size of the descriptor table.
	MaxFiles int
}

// DefaultLimits returns the limits applied when none are configured.
func DefaultLimits() Limits {
	return Limits{
		MaxFiles: 256,
	}
}
