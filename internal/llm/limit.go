package llm

import (
	"context"

	"cloud.google.com/go/vertexai/genai"
	"golang.org/x/time/rate"
)

type limitedGenerator struct {
	next    Generator
	limiter *rate.Limiter
}

// RateLimited makes g wait on limiter before every request. One limiter is
// shared by all models so the project quota is respected as a whole.
func RateLimited(g Generator, limiter *rate.Limiter) Generator {
	if limiter == nil {
		return g
	}
	return &limitedGenerator{next: g, limiter: limiter}
}

// NewLimiter allows perSecond requests with the given burst; a non-positive
// rate disables limiting.
func NewLimiter(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

func (l *limitedGenerator) GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return l.next.GenerateContent(ctx, parts...)
}
