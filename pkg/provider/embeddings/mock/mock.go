// Package mock provides an in-memory [embeddings.Provider] for tests.
//
// Without a fixed Vector the mock hashes each word of the input into a
// bucket, so texts that share words are close in cosine distance and the
// same text always maps to the same vector.
package mock

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"sync"

	"github.com/MrWong99/parley/pkg/provider/embeddings"
)

var _ embeddings.Provider = (*Provider)(nil)

// Provider is a scriptable [embeddings.Provider].
type Provider struct {
	// Dims is the vector length. Default 8.
	Dims int

	// Model is returned by ModelID.
	Model string

	// Vector, when non-nil, is returned for every text.
	Vector []float32

	// Err, when non-nil, fails every Embed call.
	Err error

	mu    sync.Mutex
	texts []string
}

func (p *Provider) Embed(_ context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	p.texts = append(p.texts, text)
	p.mu.Unlock()

	if p.Err != nil {
		return nil, p.Err
	}
	if p.Vector != nil {
		return append([]float32(nil), p.Vector...), nil
	}
	return wordVector(text, p.Dimensions()), nil
}

func (p *Provider) Dimensions() int {
	if p.Dims <= 0 {
		return 8
	}
	return p.Dims
}

func (p *Provider) ModelID() string { return p.Model }

// Texts returns every text passed to Embed, in call order.
func (p *Provider) Texts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.texts...)
}

// wordVector returns the unit-length word histogram of text.
func wordVector(text string, dims int) []float32 {
	vec := make([]float32, dims)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(strings.Trim(w, ".,!?;:")))
		vec[h.Sum32()%uint32(dims)]++
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v * v)
	}
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}
