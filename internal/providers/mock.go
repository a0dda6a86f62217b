package providers

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// MockProvider produces deterministic embeddings and canned completions so
// pipelines and workflows can run without any external API.
type MockProvider struct {
	alias string
}

func NewMockProvider(alias string) *MockProvider {
	return &MockProvider{alias: alias}
}

func (m *MockProvider) info() ProviderInfo {
	return ProviderInfo{Name: "mock", Model: "mock-v1", Key: m.alias}
}

func (m *MockProvider) Embed(_ context.Context, req EmbedRequest) ([][]float32, ProviderInfo, error) {
	if len(req.Inputs) == 0 {
		return nil, m.info(), fmt.Errorf("no embedding inputs")
	}
	dim := req.Dimension
	if dim <= 0 {
		dim = 1024
	}
	out := make([][]float32, 0, len(req.Inputs))
	for _, text := range req.Inputs {
		out = append(out, deterministicVector(text, dim))
	}
	return out, m.info(), nil
}

func (m *MockProvider) Generate(_ context.Context, req GenerateRequest) (GenerateResponse, ProviderInfo, error) {
	var text string
	switch strings.ToLower(req.Operation) {
	case "answer":
		text = "Based on the provided excerpts [1], the available evidence supports this assessment. Additional context appears in [2]."
	case "report_section":
		text = "This section summarizes the documented findings [1] and their investigative implications [2]."
	case "report_outline":
		text = "1. Background\n2. Documented Evidence\n3. Analysis\n4. Conclusions"
	default:
		text = "Mock completion for operation " + req.Operation + "."
	}
	return GenerateResponse{Text: text}, m.info(), nil
}

// deterministicVector derives a unit-normalized vector from the sha256 of the
// input, so identical texts always embed identically across runs.
func deterministicVector(text string, dim int) []float32 {
	seed := sha256.Sum256([]byte(text))
	v := make([]float32, dim)
	var norm float64
	buf := seed[:]
	for i := 0; i < dim; i++ {
		if len(buf) < 4 {
			next := sha256.Sum256(buf)
			buf = next[:]
		}
		u := binary.BigEndian.Uint32(buf[:4])
		buf = buf[4:]
		// Map to [-1, 1).
		f := float64(int64(u)-1<<31) / float64(1<<31)
		v[i] = float32(f)
		norm += f * f
	}
	if norm > 0 {
		inv := float32(1.0 / math.Sqrt(norm))
		for i := range v {
			v[i] *= inv
		}
	}
	return v
}
