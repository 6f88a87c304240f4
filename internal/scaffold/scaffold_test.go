package scaffold_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/p-blackswan/studyplan/internal/errors"
	"github.com/p-blackswan/studyplan/internal/llm"
	"github.com/p-blackswan/studyplan/internal/retry"
	"github.com/p-blackswan/studyplan/internal/scaffold"
)

type mockProvider struct {
	mu      sync.Mutex
	replies []string
	err     error
	calls   int
}

func (m *mockProvider) Complete(_ context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	if m.calls > len(m.replies) {
		return &llm.CompletionResponse{Text: m.replies[len(m.replies)-1]}, nil
	}
	return &llm.CompletionResponse{Text: m.replies[m.calls-1]}, nil
}
func (m *mockProvider) Name() string    { return "mock" }
func (m *mockProvider) ModelID() string { return "mock" }

func newScaffolder(p llm.Provider) *scaffold.AI {
	gw := llm.NewGateway(p, zerolog.Nop(),
		llm.WithRetry(retry.Config{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}))
	return scaffold.NewAI(gw, scaffold.MinUnits, zerolog.Nop())
}

const threeUnits = `{"units":[
	{"title":"Scales","description":"d1","learning_objectives":["Identify 19-TET intervals","Play a scale"],"estimated_duration":"1 hour"},
	{"title":"Chords","description":"d2","learning_objectives":[]},
	{"title":"Composition","description":"","learning_objectives":["Compose a short piece"]}
]}`

func TestScaffold_AIPath(t *testing.T) {
	p := &mockProvider{replies: []string{threeUnits}}
	res := newScaffolder(p).Scaffold(context.Background(), "microtonal guitar theory", "compose better music")

	assert.False(t, res.UsedFallback)
	require.Len(t, res.Units, 3)
	assert.Equal(t, "Scales", res.Units[0].Title)
	assert.Equal(t, "Identify 19-TET intervals", res.Units[0].Objective)
	assert.Equal(t, "1 hour", res.Units[0].EstimatedDuration)
	assert.Equal(t, "d2", res.Units[1].Objective, "description used when no objectives")
	for i, u := range res.Units {
		assert.Equal(t, i+1, u.Index)
	}
}

func TestScaffold_MalformedThenValid(t *testing.T) {
	p := &mockProvider{replies: []string{"Sure! Here is a plan", threeUnits}}
	res := newScaffolder(p).Scaffold(context.Background(), "x", "")
	assert.False(t, res.UsedFallback)
	assert.Equal(t, 2, p.calls)
}

func TestScaffold_TooFewUnitsFallsBack(t *testing.T) {
	p := &mockProvider{replies: []string{`{"units":[{"title":"Only one"}]}`}}
	res := newScaffolder(p).Scaffold(context.Background(), "knitting", "")
	assert.True(t, res.UsedFallback)
	assert.Len(t, res.Units, 3)
	assert.Equal(t, 2, p.calls, "one retry before giving up")
	assert.Contains(t, res.Note, "generic units used")
}

func unitsReply(n int) string {
	var specs []string
	for i := 1; i <= n; i++ {
		specs = append(specs, fmt.Sprintf(`{"title":"Unit %d","learning_objectives":["Learn %d"]}`, i, i))
	}
	return `{"units":[` + strings.Join(specs, ",") + `]}`
}

func TestScaffold_LongReplyIsCapped(t *testing.T) {
	p := &mockProvider{replies: []string{unitsReply(120)}}
	res := newScaffolder(p).Scaffold(context.Background(), "everything", "")

	assert.False(t, res.UsedFallback)
	require.Len(t, res.Units, scaffold.MaxUnits)
	last := res.Units[len(res.Units)-1]
	assert.Equal(t, scaffold.MaxUnits, last.Index)
	assert.Equal(t, fmt.Sprintf("Unit %d", scaffold.MaxUnits), last.Title)
}

func TestNewAI_ClampsMinUnits(t *testing.T) {
	p := &mockProvider{replies: []string{unitsReply(scaffold.MaxUnits)}}
	gw := llm.NewGateway(p, zerolog.Nop(),
		llm.WithRetry(retry.Config{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}))
	res := scaffold.NewAI(gw, 50, zerolog.Nop()).Scaffold(context.Background(), "chess", "")

	assert.False(t, res.UsedFallback, "a full-length reply satisfies the clamped minimum")
	assert.Len(t, res.Units, scaffold.MaxUnits)
}

// Scenario A.
func TestScaffold_GatewayDownUsesGenericUnits(t *testing.T) {
	p := &mockProvider{err: perrors.NewAPIError("mock", 503, "down")}
	res := newScaffolder(p).Scaffold(context.Background(), "microtonal guitar theory", "compose better music")

	assert.True(t, res.UsedFallback)
	require.Len(t, res.Units, 3)
	assert.Equal(t, "Introduction to microtonal guitar theory", res.Units[0].Title)
	assert.Equal(t, "Core concepts of microtonal guitar theory", res.Units[1].Title)
	assert.Equal(t, "Applying microtonal guitar theory", res.Units[2].Title)
	for _, u := range res.Units {
		assert.Contains(t, u.Title, "microtonal guitar theory")
	}
	assert.Equal(t, 1, p.calls, "network failures are not retried")
}

func TestScaffold_NeverEmpty(t *testing.T) {
	inputs := [][2]string{
		{"", ""},
		{"   ", "because"},
		{"a: b | c", "- dash"},
		{strings.Repeat("long ", 100), ""},
	}
	s := newScaffolder(llm.OfflineProvider{})
	for _, in := range inputs {
		res := s.Scaffold(context.Background(), in[0], in[1])
		assert.GreaterOrEqual(t, len(res.Units), scaffold.MinUnits, "topic %q", in[0])
		for _, u := range res.Units {
			assert.NotEmpty(t, u.Title)
			assert.NotEmpty(t, u.Objective)
		}
	}
}

func TestFallback_Deterministic(t *testing.T) {
	a := scaffold.Fallback{}.Scaffold(context.Background(), "chess", "")
	b := scaffold.Fallback{}.Scaffold(context.Background(), "chess", "win")
	assert.Equal(t, a, b)
}
