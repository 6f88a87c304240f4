package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/studyplan/internal/errors"
	"github.com/p-blackswan/studyplan/internal/retry"
)

const correctionPrompt = "Your previous reply could not be used: %s. Respond ONLY with the JSON object described, no markdown and no explanation."

// Observer receives one call per provider round trip. outcome is one of
// "ok", "unavailable", "malformed" or "cancelled".
type Observer interface {
	ObserveGateway(provider, outcome string, elapsed time.Duration)
}

// Validator is implemented by decoded payloads that can reject themselves.
// A validation failure counts as a malformed response.
type Validator interface {
	Validate() error
}

// Gateway wraps a Provider with the per-call timeout and the strict-JSON
// contract shared by every generation stage.
type Gateway struct {
	provider Provider
	retry    retry.Config
	timeout  time.Duration
	observer Observer
	logger   zerolog.Logger
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

func WithRetry(cfg retry.Config) GatewayOption {
	return func(g *Gateway) { g.retry = cfg }
}

// WithTimeout bounds every provider call.
func WithTimeout(d time.Duration) GatewayOption {
	return func(g *Gateway) { g.timeout = d }
}

func WithObserver(o Observer) GatewayOption {
	return func(g *Gateway) { g.observer = o }
}

// NewGateway creates a Gateway over provider.
func NewGateway(provider Provider, logger zerolog.Logger, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		provider: provider,
		retry:    retry.DefaultConfig(),
		timeout:  60 * time.Second,
		logger:   logger.With().Str("component", "llm.gateway").Str("provider", provider.Name()).Logger(),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Provider returns the wrapped provider.
func (g *Gateway) Provider() Provider { return g.provider }

// CompleteJSON sends req and decodes the reply into out, which must be a
// non-nil pointer. A reply that is not a JSON object, or that fails out's
// Validate, is retried once with a corrective message; after that the error
// wraps perrors.ErrMalformedResponse. Transport failures are returned
// immediately wrapping perrors.ErrGatewayUnavailable.
//
// Every attempt decodes into a copy of out's value on entry, so settings held
// in unexported fields survive and a rejected reply leaves nothing behind.
// out is written only when a reply is accepted.
func (g *Gateway) CompleteJSON(ctx context.Context, req CompletionRequest, out any) error {
	target := reflect.ValueOf(out)
	if target.Kind() != reflect.Pointer || target.IsNil() {
		return fmt.Errorf("decoding into %T: need a non-nil pointer", out)
	}
	seed := reflect.New(target.Type().Elem()).Elem()
	seed.Set(target.Elem())
	req.JSON = true
	base := req.Messages

	return retry.Do(ctx, g.retry, func(ctx context.Context, attempt int) error {
		if attempt > 0 {
			g.logger.Warn().Int("attempt", attempt+1).Msg("retrying after malformed response")
		}
		text, elapsed, err := g.complete(ctx, req)
		if err != nil {
			return err
		}

		fresh := reflect.New(seed.Type())
		fresh.Elem().Set(seed)
		if decodeErr := decodeValid(text, fresh.Interface()); decodeErr != nil {
			g.observe("malformed", elapsed)
			g.logger.Debug().Str("text", truncate(text, 200)).Err(decodeErr).Msg("model reply rejected")
			req.Messages = append(append([]Message{}, base...),
				Message{Role: RoleAssistant, Content: text},
				Message{Role: RoleUser, Content: fmt.Sprintf(correctionPrompt, decodeErr)},
			)
			return decodeErr
		}
		g.observe("ok", elapsed)
		target.Elem().Set(fresh.Elem())
		return nil
	})
}

func decodeValid(text string, out any) error {
	if err := DecodeJSON(text, out); err != nil {
		return err
	}
	if v, ok := out.(Validator); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("%w: %v", perrors.ErrMalformedResponse, err)
		}
	}
	return nil
}

// complete performs one provider round trip. Failures are observed here;
// a reply is observed by the caller once it has been judged.
func (g *Gateway) complete(ctx context.Context, req CompletionRequest) (string, time.Duration, error) {
	callCtx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := g.provider.Complete(callCtx, req)
	elapsed := time.Since(start)
	switch {
	case err == nil:
		return resp.Text, elapsed, nil
	case ctx.Err() != nil:
		g.observe("cancelled", elapsed)
		return "", elapsed, ctx.Err()
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded):
		g.observe("unavailable", elapsed)
		return "", elapsed, fmt.Errorf("%w: timed out after %s", perrors.ErrGatewayUnavailable, g.timeout)
	case errors.Is(err, perrors.ErrMalformedResponse):
		g.observe("malformed", elapsed)
		return "", elapsed, err
	default:
		g.observe("unavailable", elapsed)
		if !errors.Is(err, perrors.ErrGatewayUnavailable) {
			err = fmt.Errorf("%w: %v", perrors.ErrGatewayUnavailable, err)
		}
		return "", elapsed, err
	}
}

func (g *Gateway) observe(outcome string, elapsed time.Duration) {
	if g.observer != nil {
		g.observer.ObserveGateway(g.provider.Name(), outcome, elapsed)
	}
}

// DecodeJSON extracts the JSON object from a model reply and decodes it into
// out. Code fences and surrounding prose are tolerated.
func DecodeJSON(text string, out any) error {
	obj, err := ExtractJSON(text)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(obj), out); err != nil {
		return fmt.Errorf("%w: %v", perrors.ErrMalformedResponse, err)
	}
	return nil
}

// ExtractJSON returns the outermost JSON object in text.
func ExtractJSON(text string) (string, error) {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", fmt.Errorf("%w: no JSON object in reply", perrors.ErrMalformedResponse)
	}
	return s[start : end+1], nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
