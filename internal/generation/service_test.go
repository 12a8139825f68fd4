package generation

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"veostudio/internal/ledger"
	"veostudio/internal/store"
	"veostudio/internal/store/memory"
	"veostudio/internal/webhook"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type fakeWorker struct {
	mu    sync.Mutex
	calls []webhook.GenerationRequest
	fn    func(req webhook.GenerationRequest) error
}

func (f *fakeWorker) Dispatch(ctx context.Context, req webhook.GenerationRequest) error {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	fn := f.fn
	f.mu.Unlock()
	if fn != nil {
		return fn(req)
	}
	return nil
}

func (f *fakeWorker) Calls() []webhook.GenerationRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]webhook.GenerationRequest(nil), f.calls...)
}

type fixture struct {
	svc     *Service
	store   *memory.Store
	ledger  *ledger.Ledger
	worker  *fakeWorker
	account uuid.UUID
	project *store.Project
	scenes  []store.Scene
}

// newFixture builds a service over an in-memory store with one funded
// account owning a project of n scripted scenes.
func newFixture(t *testing.T, balance string, n int) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	ms := memory.New()
	l := ledger.New(ms, logger)
	w := &fakeWorker{}
	account := uuid.New()

	if _, err := l.OpenAccount(ctx, account, "creator@example.com", decimal.Zero); err != nil {
		t.Fatalf("OpenAccount: %v", err)
	}
	if b := d(balance); b.IsPositive() {
		if _, _, err := l.ApplyPurchase(ctx, ledger.PurchaseEvent{AccountID: account, Amount: b, ExternalPaymentID: "seed"}); err != nil {
			t.Fatalf("seed purchase: %v", err)
		}
	}

	svc := New(Deps{Store: ms, Ledger: l, Worker: w, Logger: logger}, Config{
		ScenesPerProject:  n,
		CallbackURL:       "http://controller/callbacks/generation",
		StitchCallbackURL: "http://controller/callbacks/stitch",
	})

	project, scenes, err := svc.CreateProject(ctx, account, "My video", nil)
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	for i := range scenes {
		script := "A hero walks into the light"
		if err := ms.UpdateSceneContent(ctx, nil, scenes[i].ID, script, "static", "basic"); err != nil {
			t.Fatalf("UpdateSceneContent: %v", err)
		}
		scenes[i].ScriptText = script
	}

	return &fixture{svc: svc, store: ms, ledger: l, worker: w, account: account, project: project, scenes: scenes}
}

func (f *fixture) scene(t *testing.T, i int) *store.Scene {
	t.Helper()
	sc, err := f.store.GetScene(context.Background(), nil, f.scenes[i].ID)
	if err != nil {
		t.Fatalf("GetScene: %v", err)
	}
	return sc
}

func (f *fixture) loadProject(t *testing.T) *store.Project {
	t.Helper()
	p, err := f.store.GetProject(context.Background(), nil, f.project.ID)
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	return p
}

func (f *fixture) assertBalance(t *testing.T, want string) {
	t.Helper()
	acct, err := f.ledger.Account(context.Background(), f.account)
	if err != nil {
		t.Fatalf("Account: %v", err)
	}
	if !acct.Balance.Equal(d(want)) {
		t.Errorf("balance = %s, want %s", acct.Balance.StringFixed(2), want)
	}
	if err := f.ledger.Verify(context.Background(), f.account); err != nil {
		t.Errorf("ledger does not verify: %v", err)
	}
}

func (f *fixture) dispatch(t *testing.T, i int) *DispatchResult {
	t.Helper()
	res, err := f.svc.Dispatch(context.Background(), f.account, f.scenes[i].ID, DispatchOptions{})
	if err != nil {
		t.Fatalf("Dispatch scene %d: %v", i+1, err)
	}
	return res
}

func (f *fixture) complete(t *testing.T, i int) *CallbackResult {
	t.Helper()
	res, err := f.svc.OnCallback(context.Background(), f.scenes[i].ID, Outcome{
		Success:     true,
		ArtifactURL: "https://cdn.example.com/scene-" + f.scenes[i].ID.String() + ".mp4",
	})
	if err != nil {
		t.Fatalf("complete scene %d: %v", i+1, err)
	}
	return res
}

func (f *fixture) fail(t *testing.T, i int) *CallbackResult {
	t.Helper()
	res, err := f.svc.OnCallback(context.Background(), f.scenes[i].ID, Outcome{
		ErrorMessage: "model error",
		Attempt:      f.lastAttempt(i),
	})
	if err != nil {
		t.Fatalf("fail scene %d: %v", i+1, err)
	}
	return res
}

// lastAttempt returns the attempt number of the latest dispatch of scene i.
func (f *fixture) lastAttempt(i int) int {
	calls := f.worker.Calls()
	for j := len(calls) - 1; j >= 0; j-- {
		if calls[j].SceneID == f.scenes[i].ID {
			return calls[j].Attempt
		}
	}
	return 0
}

func TestNew_Defaults(t *testing.T) {
	svc := New(Deps{Store: memory.New(), Worker: &fakeWorker{}}, Config{})
	cfg := svc.Config()

	if !cfg.GenerationCost.Equal(d("0.98")) || !cfg.RegenerationCost.Equal(d("0.98")) {
		t.Errorf("costs = %s/%s, want 0.98/0.98", cfg.GenerationCost, cfg.RegenerationCost)
	}
	if cfg.ScenesPerProject != 20 {
		t.Errorf("ScenesPerProject = %d, want 20", cfg.ScenesPerProject)
	}
	if cfg.BulkConcurrency <= 0 || cfg.StaleTimeout <= 0 {
		t.Errorf("unexpected loop defaults %+v", cfg)
	}
}
