package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

const DefaultModelName = "gemini-2.5-flash"

// GenerationRequest is one single-shot prompt to the language model.
type GenerationRequest struct {
	Operation         string // metric and span label, e.g. "generate_questions"
	SystemInstruction string
	Prompt            string
	Schema            *genai.Schema // when set the reply is requested as application/json
	Temperature       *float32
}

// TextGenerator produces model text for a prompt.
type TextGenerator interface {
	GenerateText(ctx context.Context, req GenerationRequest) (string, error)
}

// AudioTranscriber turns a recorded answer into text.
type AudioTranscriber interface {
	TranscribeAudio(ctx context.Context, audio []byte, mimeType string) (string, error)
}

// GeminiService is the gateway to the Gemini API. Every call is throttled,
// retried on transient failures and guarded by a circuit breaker.
type GeminiService struct {
	client      *genai.Client
	model       string
	temperature float32
	timeout     time.Duration
	maxRetries  int
	limiter     *rate.Limiter
	breaker     *gobreaker.CircuitBreaker[string]
}

func NewGeminiService(ctx context.Context, cfg AIConfig) (*GeminiService, error) {
	if cfg.GeminiAPIKey == "" {
		return nil, errors.New("gemini api key is not configured")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModelName
	}

	return &GeminiService{
		client:      client,
		model:       model,
		temperature: cfg.Temperature,
		timeout:     cfg.RequestTimeout,
		maxRetries:  cfg.MaxRetries,
		limiter:     newLLMLimiter(cfg.RequestsPerMinute),
		breaker:     newLLMBreaker(cfg),
	}, nil
}

func newLLMLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), max(1, perMinute/10))
}

func newLLMBreaker(cfg AIConfig) *gobreaker.CircuitBreaker[string] {
	minRequests := cfg.BreakerMinRequests
	if minRequests == 0 {
		minRequests = 5
	}
	ratio := cfg.BreakerFailureRatio
	if ratio <= 0 {
		ratio = 0.6
	}

	return gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "gemini",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= minRequests && failureRatio >= ratio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
		// caller cancellations say nothing about upstream health
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
}

// GenerateText runs a text prompt and returns the raw reply.
func (g *GeminiService) GenerateText(ctx context.Context, req GenerationRequest) (string, error) {
	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(g.temperature),
	}
	if req.Temperature != nil {
		config.Temperature = req.Temperature
	}
	if req.SystemInstruction != "" {
		config.SystemInstruction = genai.NewContentFromText(req.SystemInstruction, genai.RoleUser)
	}
	if req.Schema != nil {
		config.ResponseMIMEType = "application/json"
		config.ResponseSchema = req.Schema
	}

	return g.generate(ctx, req.Operation, genai.Text(req.Prompt), config)
}

// TranscribeAudio transcribes a spoken answer.
func (g *GeminiService) TranscribeAudio(ctx context.Context, audio []byte, mimeType string) (string, error) {
	if len(audio) == 0 {
		return "", &ValidationError{Field: "audio", Message: "is empty"}
	}
	if mimeType == "" {
		mimeType = "audio/webm"
	}

	parts := []*genai.Part{
		genai.NewPartFromText("Transcribe this interview answer to text. Provide only the transcript, no additional commentary. If nothing intelligible is said, return an empty string."),
		genai.NewPartFromBytes(audio, mimeType),
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	transcript, err := g.generate(ctx, "transcribe_audio", contents, &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](0),
	})
	if err != nil {
		return "", err
	}

	transcript = strings.TrimSpace(transcript)
	slog.Info("Audio transcribed successfully", "audio_size", len(audio), "transcript_length", len(transcript))
	return transcript, nil
}

// Healthy reports whether the breaker currently lets calls through.
func (g *GeminiService) Healthy() bool {
	return g.breaker.State() != gobreaker.StateOpen
}

func (g *GeminiService) generate(ctx context.Context, operation string, contents []*genai.Content, config *genai.GenerateContentConfig) (string, error) {
	ctx, span := otel.Tracer("mockprep/gemini").Start(ctx, "gemini."+operation)
	defer span.End()
	span.SetAttributes(
		attribute.String("ai.provider", "gemini"),
		attribute.String("ai.model", g.model),
		attribute.String("ai.operation", operation),
	)

	start := time.Now()
	text, err := g.breaker.Execute(func() (string, error) {
		return g.executeWithRetry(ctx, operation, func(attemptCtx context.Context) (string, error) {
			result, err := g.client.Models.GenerateContent(attemptCtx, g.model, contents, config)
			if err != nil {
				return "", err
			}
			return result.Text(), nil
		})
	})
	observeLLMRequest(operation, time.Since(start), err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			slog.Warn("Gemini circuit open, request rejected", "operation", operation)
		}
		return "", &UpstreamError{Operation: operation, Err: err}
	}

	span.SetAttributes(attribute.Int("ai.response_length", len(text)))
	return text, nil
}

// executeWithRetry waits on the limiter and retries transient failures with
// exponential backoff.
func (g *GeminiService) executeWithRetry(ctx context.Context, operation string, fn func(context.Context) (string, error)) (string, error) {
	var lastErr error

	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := retryBackoff(attempt)
			slog.Warn("Retrying Gemini request", "operation", operation, "attempt", attempt, "backoff", backoff, "error", lastErr)

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		if err := g.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limiter: %w", err)
		}

		attemptCtx, cancel := g.attemptContext(ctx)
		text, err := fn(attemptCtx)
		cancel()
		if err == nil {
			if attempt > 0 {
				slog.Info("Gemini request succeeded after retry", "operation", operation, "attempts", attempt+1)
			}
			return text, nil
		}

		lastErr = err
		if ctx.Err() != nil || !isRetryableError(err) {
			break
		}
	}

	return "", fmt.Errorf("operation %q failed after %d attempts: %w", operation, g.maxRetries+1, lastErr)
}

func (g *GeminiService) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.timeout)
}

// retryBackoff is 2^(attempt-1) seconds plus up to 10% jitter, capped at 30s.
func retryBackoff(attempt int) time.Duration {
	base := time.Duration(math.Pow(2, float64(attempt-1))) * time.Second
	jitter := time.Duration(0)
	if n, err := rand.Int(rand.Reader, big.NewInt(int64(base)/10+1)); err == nil {
		jitter = time.Duration(n.Int64())
	}
	return min(base+jitter, 30*time.Second)
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true
		}
	}
	return false
}
