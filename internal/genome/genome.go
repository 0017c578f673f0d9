package genome

import (
	"fmt"
	"math/rand"

	"mechevolve/internal/config"
)

// Encoding selects how gene vectors are interpreted by the operators.
type Encoding int

const (
	// Real encodes each gene as a float in [0,1], decoded to physical
	// values through per-gene bounds.
	Real Encoding = iota

	// Binary encodes each gene as a 0/1 inclusion flag.
	Binary
)

// Population is an ordered set of N individuals, each a gene vector of
// length D. Order is significant: fitness records are keyed by row index.
type Population [][]float64

// Clone returns a deep copy of the population.
func (p Population) Clone() Population {
	out := make(Population, len(p))
	for i, row := range p {
		out[i] = append([]float64(nil), row...)
	}
	return out
}

// Options configures a Codec.
type Options struct {
	Encoding      Encoding
	Dimension     int
	Population    int
	MutationRate  float64
	CrossoverProb float64

	// Bounds maps the internal [0,1] encoding to physical values for
	// real-valued genes. Empty means genes are already physical.
	Bounds []config.GeneBounds

	// Pinned lists gene positions immune to mutation and crossover for
	// binary encodings. Pinned genes are initialized to 1 and stay 1.
	Pinned []int

	// Rand is the run's seeded random source. All stochastic operators
	// draw from it in a fixed order, so runs reproduce given the seed.
	Rand *rand.Rand
}

// realMutationSpan bounds a single real-gene perturbation; results are
// clamped to [0,1] so decoded values never leave their declared domain.
const realMutationSpan = 0.1

// Codec implements the genetic operators over one chromosome layout.
// All operators are pure functions of (input population, RNG state,
// options); they never mutate their input.
type Codec struct {
	opts   Options
	pinned map[int]bool
}

// New validates the chromosome layout and returns a codec.
func New(opts Options) (*Codec, error) {
	if opts.Dimension <= 0 {
		return nil, &config.ValidationError{Field: "Dimension", Reason: "must be positive"}
	}
	if opts.Population <= 0 {
		return nil, &config.ValidationError{Field: "Population", Reason: "must be positive"}
	}
	if opts.MutationRate < 0 || opts.MutationRate > 1 {
		return nil, &config.ValidationError{Field: "MutationRate", Reason: "must be in [0,1]"}
	}
	if opts.CrossoverProb < 0 || opts.CrossoverProb > 1 {
		return nil, &config.ValidationError{Field: "CrossoverProb", Reason: "must be in [0,1]"}
	}
	if len(opts.Bounds) > 0 && len(opts.Bounds) != opts.Dimension {
		return nil, &config.ValidationError{
			Field:  "Bounds",
			Reason: fmt.Sprintf("length %d does not match dimension %d", len(opts.Bounds), opts.Dimension),
		}
	}
	if opts.Rand == nil {
		return nil, &config.ValidationError{Field: "Rand", Reason: "random source is required"}
	}

	pinned := make(map[int]bool, len(opts.Pinned))
	for _, idx := range opts.Pinned {
		if idx < 0 || idx >= opts.Dimension {
			return nil, &config.ValidationError{
				Field:  "Pinned",
				Reason: fmt.Sprintf("index %d outside [0,%d)", idx, opts.Dimension),
			}
		}
		pinned[idx] = true
	}

	return &Codec{opts: opts, pinned: pinned}, nil
}

// Dimension returns the gene vector length D.
func (c *Codec) Dimension() int { return c.opts.Dimension }

// PopulationSize returns the population size N.
func (c *Codec) PopulationSize() int { return c.opts.Population }

// InitPopulation builds the initial population. When seed has at least N
// rows, N rows are drawn from it without replacement (in seed order when
// it has exactly N rows); otherwise individuals are generated uniformly
// at random within each gene's domain. A seed with mismatched gene count
// is rejected.
func (c *Codec) InitPopulation(seed Population) (Population, error) {
	n, d := c.opts.Population, c.opts.Dimension

	if len(seed) >= n {
		for i, row := range seed {
			if len(row) != d {
				return nil, &config.ValidationError{
					Field:  "seed",
					Reason: fmt.Sprintf("row %d has %d genes, want %d", i, len(row), d),
				}
			}
		}
		if len(seed) == n {
			return seed.Clone(), nil
		}
		pop := make(Population, 0, n)
		for _, idx := range c.opts.Rand.Perm(len(seed))[:n] {
			pop = append(pop, append([]float64(nil), seed[idx]...))
		}
		return pop, nil
	}

	pop := make(Population, n)
	for i := range pop {
		genes := make([]float64, d)
		for j := range genes {
			switch {
			case c.opts.Encoding == Binary && c.pinned[j]:
				genes[j] = 1
			case c.opts.Encoding == Binary:
				genes[j] = float64(c.opts.Rand.Intn(2))
			default:
				genes[j] = c.opts.Rand.Float64()
			}
		}
		pop[i] = genes
	}
	return pop, nil
}

// Select performs roulette-wheel selection with replacement, drawing N
// individuals with probability monotonic in weight. Weights are shifted
// so the minimum is zero before sampling, so negative weights never
// produce negative probabilities; a zero-span weight vector falls back
// to uniform draws.
func (c *Codec) Select(pop Population, weights []float64) (Population, error) {
	if len(weights) != len(pop) {
		return nil, fmt.Errorf("weight count %d does not match population %d", len(weights), len(pop))
	}

	minW := weights[0]
	for _, w := range weights[1:] {
		if w < minW {
			minW = w
		}
	}
	shifted := make([]float64, len(weights))
	total := 0.0
	for i, w := range weights {
		shifted[i] = w - minW
		total += shifted[i]
	}

	out := make(Population, 0, c.opts.Population)
	for i := 0; i < c.opts.Population; i++ {
		idx := len(pop) - 1
		if total == 0 {
			idx = c.opts.Rand.Intn(len(pop))
		} else {
			spin := c.opts.Rand.Float64() * total
			cumulative := 0.0
			for j, w := range shifted {
				cumulative += w
				if cumulative >= spin {
					idx = j
					break
				}
			}
		}
		out = append(out, append([]float64(nil), pop[idx]...))
	}
	return out, nil
}

// Crossover recombines sequential pairs (0,1), (2,3), ... at a single
// random point with the configured probability. An odd trailing
// individual passes through unchanged. Pinned positions are copied from
// their own parent, so they are never left undefined.
func (c *Codec) Crossover(pop Population) Population {
	out := pop.Clone()
	d := c.opts.Dimension

	for i := 0; i+1 < len(out); i += 2 {
		if c.opts.Rand.Float64() >= c.opts.CrossoverProb || d < 2 {
			continue
		}
		point := 1 + c.opts.Rand.Intn(d-1)
		for j := point; j < d; j++ {
			out[i][j], out[i+1][j] = out[i+1][j], out[i][j]
		}
		for j := range c.pinned {
			out[i][j] = pop[i][j]
			out[i+1][j] = pop[i+1][j]
		}
	}
	return out
}

// Mutate applies independent per-gene mutation at the configured rate.
// Real genes are perturbed and clamped to [0,1]; binary genes flip.
// Pinned positions are immune at any rate.
func (c *Codec) Mutate(pop Population) Population {
	out := pop.Clone()

	for _, genes := range out {
		for j := range genes {
			if c.pinned[j] {
				continue
			}
			if c.opts.Rand.Float64() >= c.opts.MutationRate {
				continue
			}
			if c.opts.Encoding == Binary {
				genes[j] = 1 - genes[j]
				continue
			}
			genes[j] += (c.opts.Rand.Float64()*2 - 1) * realMutationSpan
			if genes[j] < 0 {
				genes[j] = 0
			} else if genes[j] > 1 {
				genes[j] = 1
			}
		}
	}
	return out
}

// RealValues decodes the internal [0,1] encoding into physical values
// through the per-gene bounds. Without bounds the genes are returned
// as-is; the mapping is fixed and reversible either way.
func (c *Codec) RealValues(pop Population) Population {
	if len(c.opts.Bounds) == 0 {
		return pop.Clone()
	}
	out := pop.Clone()
	for _, genes := range out {
		for j := range genes {
			b := c.opts.Bounds[j]
			genes[j] = b.Min + genes[j]*(b.Max-b.Min)
		}
	}
	return out
}
