package opt

// Optimizer is a black-box continuous minimizer used as a reference
// baseline for the genetic engine. Implementations run their own loop
// and report only the final champion.
type Optimizer interface {
	// Run minimizes eval over a dim-dimensional box with the given
	// per-dimension bounds, returning the best parameters and cost.
	Run(eval func([]float64) float64, lower, upper []float64, dim int) ([]float64, float64, error)
}
