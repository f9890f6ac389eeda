package inference

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"

	"github.com/marahq/tally/internal/clock"
	"github.com/oklog/ulid/v2"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Request struct {
	Model       string
	Prompt      string
	MaxTokens   int64
	Temperature float64
}

type Result struct {
	ID         string
	Text       string
	TokensUsed int64
	LatencyMs  int64
}

// Generator produces mock completions. Token counts follow the usual
// four-characters-per-token approximation so costs stay proportional to
// prompt size without a real model behind them.
type Generator interface {
	Generate(req Request) (*Result, error)
}

type Params struct {
	fx.In

	Log   *zap.Logger
	Clock clock.Clock
}

type generator struct {
	log   *zap.Logger
	clock clock.Clock

	mu      sync.Mutex
	rand    *rand.Rand
	entropy *ulid.MonotonicEntropy
}

func New(p Params) Generator {
	seed := p.Clock.Now().UnixNano()
	src := rand.New(rand.NewSource(seed))
	return &generator{
		log:     p.Log.Named("inference.generator"),
		clock:   p.Clock,
		rand:    src,
		entropy: ulid.Monotonic(rand.New(rand.NewSource(seed+1)), 0),
	}
}

func (g *generator) Generate(req Request) (*Result, error) {
	g.mu.Lock()
	id := ulid.MustNew(ulid.Timestamp(g.clock.Now()), g.entropy)
	promptTokens := int64(len(req.Prompt))/4 + 1
	completionTokens := 20 + g.rand.Int63n(60)
	latency := 80 + g.rand.Int63n(100)
	g.mu.Unlock()

	tokens := promptTokens + completionTokens
	if req.MaxTokens > 0 && tokens > req.MaxTokens {
		tokens = req.MaxTokens
	}

	result := &Result{
		ID:         "req_" + strings.ToLower(id.String()),
		Text:       fmt.Sprintf("[%s] Mock completion for prompt of %d characters.", req.Model, len(req.Prompt)),
		TokensUsed: tokens,
		LatencyMs:  latency,
	}
	g.log.Debug("completion generated",
		zap.String("request_id", result.ID),
		zap.String("model", req.Model),
		zap.Int64("tokens_used", result.TokensUsed),
		zap.Int64("latency_ms", result.LatencyMs),
	)
	return result, nil
}

var Module = fx.Module("inference.generator",
	fx.Provide(New),
)
