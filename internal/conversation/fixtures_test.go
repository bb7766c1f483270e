package conversation

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/leadflow/internal/blueprint"
	"github.com/p-blackswan/leadflow/internal/kv"
	"github.com/p-blackswan/leadflow/internal/llm"
	"github.com/p-blackswan/leadflow/internal/notify"
	"github.com/p-blackswan/leadflow/internal/ratelimit"
	"github.com/p-blackswan/leadflow/internal/session"
	"github.com/p-blackswan/leadflow/internal/store"
)

var t0 = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeGenerator counts calls per operation.
type fakeGenerator struct {
	blueprints atomic.Int32
	questions  atomic.Int32
	replies    atomic.Int32

	blueprintErr error
	questionsErr error
	replyErr     error
	withQs       bool

	mu       sync.Mutex
	messages []string
}

func (g *fakeGenerator) GenerateBlueprint(_ context.Context, w session.WizardData) (*blueprint.Blueprint, error) {
	n := g.blueprints.Add(1)
	if g.blueprintErr != nil {
		return nil, g.blueprintErr
	}
	bp := &blueprint.Blueprint{
		Title:   fmt.Sprintf("blueprint-%d", n),
		Summary: "Automate: " + w.Goal,
		Steps:   []blueprint.Step{{Title: "Connect", Description: "Link the tools"}},
	}
	if g.withQs {
		bp.Questions = []string{"How often?", "Who is involved?", "What breaks?"}
	}
	return bp, nil
}

func (g *fakeGenerator) GenerateQuestions(context.Context, session.WizardData, *blueprint.Blueprint) ([]string, error) {
	g.questions.Add(1)
	if g.questionsErr != nil {
		return nil, g.questionsErr
	}
	return []string{"Q1?", "Q2?", "Q3?"}, nil
}

func (g *fakeGenerator) Reply(_ context.Context, _ session.WizardData, _ *blueprint.Blueprint, _ []llm.Message, message string) (string, error) {
	g.replies.Add(1)
	g.mu.Lock()
	g.messages = append(g.messages, message)
	g.mu.Unlock()
	if g.replyErr != nil {
		return "", g.replyErr
	}
	return "Thanks! Tell me more.", nil
}

func (g *fakeGenerator) seen() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.messages...)
}

type fakeNotifier struct {
	mu    sync.Mutex
	leads []notify.Lead
}

func (n *fakeNotifier) Notify(_ context.Context, lead notify.Lead) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.leads = append(n.leads, lead)
	return nil
}

func (n *fakeNotifier) count(ev notify.Event) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, l := range n.leads {
		if l.Event == ev {
			c++
		}
	}
	return c
}

var errDiskFull = errors.New("disk full")

// countingStore records how often sessions are looked up and can fail the
// next saves or quote upserts.
type countingStore struct {
	*store.Store
	loads       atomic.Int32
	failSaves   atomic.Int32
	failUpserts atomic.Int32
}

func (s *countingStore) Load(ctx context.Context, id string) (*session.Session, error) {
	s.loads.Add(1)
	return s.Store.Load(ctx, id)
}

func (s *countingStore) Save(ctx context.Context, sess *session.Session) error {
	if s.failSaves.Load() > 0 {
		s.failSaves.Add(-1)
		return errDiskFull
	}
	return s.Store.Save(ctx, sess)
}

func (s *countingStore) UpsertQuoteRequest(ctx context.Context, sessionID, source string, at time.Time) (bool, error) {
	if s.failUpserts.Load() > 0 {
		s.failUpserts.Add(-1)
		return false, errDiskFull
	}
	return s.Store.UpsertQuoteRequest(ctx, sessionID, source, at)
}

type harness struct {
	m        *Manager
	clock    *clock
	store    *countingStore
	cache    *blueprint.Cache
	limiter  *ratelimit.Limiter
	gen      *fakeGenerator
	notifier *fakeNotifier
}

type harnessOpt func(*Config, *ratelimit.Config)

func newHarness(t *testing.T, gen *fakeGenerator, opts ...harnessOpt) *harness {
	t.Helper()
	clk := &clock{now: t0}

	st, err := store.New(filepath.Join(t.TempDir(), "leadflow.db"), zerolog.Nop(), store.WithClock(clk.Now))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	mem := kv.NewMemoryStore(1000, clk.Now)
	cfg := DefaultConfig()
	rlCfg := ratelimit.DefaultConfig()
	for _, o := range opts {
		o(&cfg, &rlCfg)
	}

	cache := blueprint.NewCache(mem, 7*24*time.Hour, zerolog.Nop(), blueprint.WithClock(clk.Now))
	limiter := ratelimit.New(rlCfg, mem, zerolog.Nop(), ratelimit.WithClock(clk.Now))
	cs := &countingStore{Store: st}
	notifier := &fakeNotifier{}

	m := New(cfg, Deps{
		Store:     cs,
		Cache:     cache,
		Limiter:   limiter,
		Generator: gen,
		Notifier:  notifier,
	}, zerolog.Nop(), WithClock(clk.Now))

	return &harness{m: m, clock: clk, store: cs, cache: cache, limiter: limiter, gen: gen, notifier: notifier}
}

func questionnaire() session.WizardData {
	return session.WizardData{
		Goal:       "Automate reporting",
		Workflow:   "Every Monday I copy numbers from three sheets into a deck",
		Tools:      "Sheets",
		PainPoints: "manual copy-paste",
	}
}

func (h *harness) submit(t *testing.T) *Result {
	t.Helper()
	res, err := h.m.Submit(context.Background(), "203.0.113.7", questionnaire())
	require.NoError(t, err)
	return res
}
