package grid

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/ojrac/opensimplex-go"
)

// Source produces coherent 2D noise in roughly [-1, 1].
type Source interface {
	Noise2D(x, y float64) float64
}

// NewSource returns the named noise source seeded with seed.
func NewSource(kind string, seed int64) (Source, error) {
	switch kind {
	case "perlin", "":
		return NewPerlinNoise(seed), nil
	case "simplex":
		return simplexSource{noise: opensimplex.New(seed)}, nil
	default:
		return nil, fmt.Errorf("unknown noise source %q", kind)
	}
}

type simplexSource struct {
	noise opensimplex.Noise
}

func (s simplexSource) Noise2D(x, y float64) float64 {
	return s.noise.Eval2(x, y)
}

// PerlinNoise generates coherent noise values.
type PerlinNoise struct {
	perm [512]int
}

// NewPerlinNoise creates a new Perlin noise generator.
func NewPerlinNoise(seed int64) *PerlinNoise {
	p := &PerlinNoise{}
	rng := rand.New(rand.NewSource(seed))

	var perm [256]int
	for i := range perm {
		perm[i] = i
	}
	for i := len(perm) - 1; i > 0; i-- {
		j := rng.Intn(i + 1)
		perm[i], perm[j] = perm[j], perm[i]
	}
	for i := 0; i < 256; i++ {
		p.perm[i] = perm[i]
		p.perm[i+256] = perm[i]
	}

	return p
}

// Noise2D returns a noise value for 2D coordinates.
func (p *PerlinNoise) Noise2D(x, y float64) float64 {
	X := int(math.Floor(x)) & 255
	Y := int(math.Floor(y)) & 255

	x -= math.Floor(x)
	y -= math.Floor(y)

	u := fade(x)
	v := fade(y)

	A := p.perm[X] + Y
	B := p.perm[X+1] + Y

	return lerp(v,
		lerp(u, grad2D(p.perm[A], x, y), grad2D(p.perm[B], x-1, y)),
		lerp(u, grad2D(p.perm[A+1], x, y-1), grad2D(p.perm[B+1], x-1, y-1)))
}

func fade(t float64) float64 {
	return t * t * t * (t*(t*6-15) + 10)
}

func lerp(t, a, b float64) float64 {
	return a + t*(b-a)
}

func grad2D(hash int, x, y float64) float64 {
	switch hash & 7 {
	case 0:
		return x + y
	case 1:
		return -x + y
	case 2:
		return x - y
	case 3:
		return -x - y
	case 4:
		return x
	case 5:
		return -x
	case 6:
		return y
	default:
		return -y
	}
}

// Fractal sums octaves of src and maps the result to [0, 1].
// offX and offY shift the sample window; u and v are the cell's normalised
// coordinates multiplied by the noise scale.
func Fractal(src Source, u, v, offX, offY float64, octaves int, persistence, lacunarity float64) float64 {
	amplitude, frequency := 1.0, 1.0
	var height, maxAmp float64
	for o := 0; o < octaves; o++ {
		height += src.Noise2D((u+offX)*frequency, (v+offY)*frequency) * amplitude
		maxAmp += amplitude
		amplitude *= persistence
		frequency *= lacunarity
	}
	if maxAmp == 0 {
		return 0.5
	}
	return clamp01((height/maxAmp + 1) / 2)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
