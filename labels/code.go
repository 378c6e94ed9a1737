package labels

import (
	"math/rand/v2"
	"regexp"
	"sync"
)

// Code is a printed label code: an uppercase letter, five digits and an
// uppercase letter, e.g. "K48213Q".
type Code string

var codePattern = regexp.MustCompile(`^[A-Z]\d{5}[A-Z]$`)

// Valid reports whether c has the label code shape.
func (c Code) Valid() bool { return codePattern.MatchString(string(c)) }

func (c Code) String() string { return string(c) }

// Generator draws label codes. Draws are independent; duplicates within a
// batch are only removed when the generator is unique.
type Generator struct {
	mu     sync.Mutex
	rng    *rand.Rand
	unique bool
}

// NewGenerator creates a generator over src. A nil src is seeded from the
// runtime's random source.
func NewGenerator(src rand.Source, unique bool) *Generator {
	if src == nil {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	return &Generator{rng: rand.New(src), unique: unique}
}

func (g *Generator) draw() Code {
	var b [7]byte
	b[0] = byte('A' + g.rng.IntN(26))
	n := 10000 + g.rng.IntN(90000)
	for i := 5; i >= 1; i-- {
		b[i] = byte('0' + n%10)
		n /= 10
	}
	b[6] = byte('A' + g.rng.IntN(26))
	return Code(b[:])
}

// Code draws a single code.
func (g *Generator) Code() Code {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.draw()
}

// GenerateBatch returns count codes. A non-positive count yields an empty
// batch.
func (g *Generator) GenerateBatch(count int) []Code {
	if count <= 0 {
		return []Code{}
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]Code, 0, count)
	var seen map[Code]struct{}
	if g.unique {
		seen = make(map[Code]struct{}, count)
	}
	for len(out) < count {
		c := g.draw()
		if seen != nil {
			if _, dup := seen[c]; dup {
				continue
			}
			seen[c] = struct{}{}
		}
		out = append(out, c)
	}
	return out
}
