// Package memory is an in-process implementation of the store interfaces.
// Transactions are fully serialized, which gives the same guarantees the
// postgres store gets from row locks. It backs service tests.
package memory

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"sync"
	"time"

	"veostudio/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var errRawSQL = errors.New("memory: raw SQL is not supported")

type state struct {
	accounts  map[uuid.UUID]store.Account
	ledger    []store.LedgerEntry
	projects  map[uuid.UUID]store.Project
	scenes    map[uuid.UUID]store.Scene
	queue     map[uuid.UUID]store.QueueEntry
	outbox    []store.OutboxMessage
	ledgerSeq int64
	outboxSeq int64
}

func newState() *state {
	return &state{
		accounts: make(map[uuid.UUID]store.Account),
		projects: make(map[uuid.UUID]store.Project),
		scenes:   make(map[uuid.UUID]store.Scene),
		queue:    make(map[uuid.UUID]store.QueueEntry),
	}
}

func (st *state) clone() *state {
	c := &state{
		accounts:  make(map[uuid.UUID]store.Account, len(st.accounts)),
		ledger:    append([]store.LedgerEntry(nil), st.ledger...),
		projects:  make(map[uuid.UUID]store.Project, len(st.projects)),
		scenes:    make(map[uuid.UUID]store.Scene, len(st.scenes)),
		queue:     make(map[uuid.UUID]store.QueueEntry, len(st.queue)),
		outbox:    append([]store.OutboxMessage(nil), st.outbox...),
		ledgerSeq: st.ledgerSeq,
		outboxSeq: st.outboxSeq,
	}
	for k, v := range st.accounts {
		c.accounts[k] = v
	}
	for k, v := range st.projects {
		c.projects[k] = v
	}
	for k, v := range st.scenes {
		c.scenes[k] = v
	}
	for k, v := range st.queue {
		c.queue[k] = v
	}
	return c
}

// Store is the in-memory store.
type Store struct {
	txMu sync.Mutex
	mu   sync.RWMutex
	data *state

	faultMu sync.Mutex
	faults  map[string]error
	hooks   map[string]func()

	// Now is the clock used for timestamps.
	Now func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{
		data:   newState(),
		faults: make(map[string]error),
		hooks:  make(map[string]func()),
		Now:    time.Now,
	}
}

// FailNext makes the next call of the named method return err.
func (s *Store) FailNext(method string, err error) {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	s.faults[method] = err
}

// BeforeNext runs fn at the start of the next call of the named method.
func (s *Store) BeforeNext(method string, fn func()) {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	s.hooks[method] = fn
}

func (s *Store) fault(method string) error {
	s.faultMu.Lock()
	hook := s.hooks[method]
	delete(s.hooks, method)
	err, ok := s.faults[method]
	delete(s.faults, method)
	s.faultMu.Unlock()

	if hook != nil {
		hook()
	}
	if ok {
		return err
	}
	return nil
}

// Tx is a serialized unit of work over a private copy of the data.
type Tx struct {
	s    *Store
	st   *state
	done bool
}

func (t *Tx) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return nil, errRawSQL
}

func (t *Tx) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return nil, errRawSQL
}

func (t *Tx) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return nil
}

func (t *Tx) Commit() error {
	if t.done {
		return sql.ErrTxDone
	}
	t.done = true
	t.s.mu.Lock()
	t.s.data = t.st
	t.s.mu.Unlock()
	t.s.txMu.Unlock()
	return nil
}

func (t *Tx) Rollback() error {
	if t.done {
		return sql.ErrTxDone
	}
	t.done = true
	t.s.txMu.Unlock()
	return nil
}

// BeginTx blocks until no other transaction is open.
func (s *Store) BeginTx(ctx context.Context) (store.Tx, error) {
	if err := s.fault("BeginTx"); err != nil {
		return nil, err
	}
	s.txMu.Lock()
	s.mu.RLock()
	st := s.data.clone()
	s.mu.RUnlock()
	return &Tx{s: s, st: st}, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.fault("Ping")
}

// read runs fn against the transaction's view, or the committed data.
func (s *Store) read(tx store.DBTransaction, fn func(st *state) error) error {
	if t, ok := tx.(*Tx); ok && t != nil {
		return fn(t.st)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.data)
}

// write runs fn inside tx, or as a single-statement transaction.
func (s *Store) write(tx store.DBTransaction, fn func(st *state) error) error {
	if t, ok := tx.(*Tx); ok && t != nil {
		return fn(t.st)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.data.clone()
	if err := fn(st); err != nil {
		return err
	}
	s.data = st
	return nil
}

// Accounts

func (s *Store) CreateAccount(ctx context.Context, tx store.DBTransaction, account *store.Account) (bool, error) {
	if err := s.fault("CreateAccount"); err != nil {
		return false, err
	}
	created := false
	err := s.write(tx, func(st *state) error {
		if _, ok := st.accounts[account.ID]; ok {
			return nil
		}
		now := s.Now()
		a := *account
		a.Balance = decimal.Zero
		a.CreatedAt, a.UpdatedAt = now, now
		st.accounts[a.ID] = a
		created = true
		return nil
	})
	return created, err
}

func (s *Store) GetAccount(ctx context.Context, tx store.DBTransaction, id uuid.UUID) (*store.Account, error) {
	var out *store.Account
	err := s.read(tx, func(st *state) error {
		a, ok := st.accounts[id]
		if !ok {
			return store.ErrNotFound
		}
		out = &a
		return nil
	})
	return out, err
}

func (s *Store) LockAccount(ctx context.Context, tx store.DBTransaction, id uuid.UUID) (*store.Account, error) {
	if err := s.fault("LockAccount"); err != nil {
		return nil, err
	}
	return s.GetAccount(ctx, tx, id)
}

func (s *Store) UpdateAccountBalance(ctx context.Context, tx store.DBTransaction, id uuid.UUID, balance decimal.Decimal) error {
	return s.write(tx, func(st *state) error {
		a, ok := st.accounts[id]
		if !ok {
			return store.ErrStaleState
		}
		if balance.IsNegative() {
			return errors.New("memory: balance check constraint violated")
		}
		a.Balance = balance
		a.UpdatedAt = s.Now()
		st.accounts[id] = a
		return nil
	})
}

func (s *Store) SetLedgerHalted(ctx context.Context, tx store.DBTransaction, id uuid.UUID, halted bool, reason *string) error {
	return s.write(tx, func(st *state) error {
		a, ok := st.accounts[id]
		if !ok {
			return nil
		}
		a.LedgerHalted = halted
		a.HaltReason = reason
		st.accounts[id] = a
		return nil
	})
}

func (s *Store) IncrementVideosCreated(ctx context.Context, tx store.DBTransaction, id uuid.UUID) error {
	return s.write(tx, func(st *state) error {
		a, ok := st.accounts[id]
		if !ok {
			return nil
		}
		a.TotalVideosCreated++
		st.accounts[id] = a
		return nil
	})
}

// Ledger

func (s *Store) InsertLedgerEntry(ctx context.Context, tx store.DBTransaction, entry *store.LedgerEntry) error {
	if err := s.fault("InsertLedgerEntry"); err != nil {
		return err
	}
	return s.write(tx, func(st *state) error {
		if entry.IdempotencyKey != nil {
			for _, e := range st.ledger {
				if e.IdempotencyKey != nil && *e.IdempotencyKey == *entry.IdempotencyKey {
					return store.ErrDuplicateEntry
				}
			}
		}
		if entry.ID == uuid.Nil {
			entry.ID = uuid.New()
		}
		st.ledgerSeq++
		entry.Seq = st.ledgerSeq
		entry.CreatedAt = s.Now()
		st.ledger = append(st.ledger, *entry)
		return nil
	})
}

func (s *Store) LedgerEntryExists(ctx context.Context, tx store.DBTransaction, idempotencyKey string) (bool, error) {
	exists := false
	err := s.read(tx, func(st *state) error {
		for _, e := range st.ledger {
			if e.IdempotencyKey != nil && *e.IdempotencyKey == idempotencyKey {
				exists = true
				return nil
			}
		}
		return nil
	})
	return exists, err
}

func (s *Store) SumLedgerEntries(ctx context.Context, tx store.DBTransaction, accountID uuid.UUID) (decimal.Decimal, error) {
	sum := decimal.Zero
	err := s.read(tx, func(st *state) error {
		for _, e := range st.ledger {
			if e.AccountID == accountID {
				sum = sum.Add(e.Amount)
			}
		}
		return nil
	})
	return sum, err
}

func (s *Store) LedgerChain(ctx context.Context, tx store.DBTransaction, accountID uuid.UUID) ([]store.LedgerEntry, error) {
	var out []store.LedgerEntry
	err := s.read(tx, func(st *state) error {
		for _, e := range st.ledger {
			if e.AccountID == accountID {
				out = append(out, e)
			}
		}
		return nil
	})
	return out, err
}

func (s *Store) ListLedgerEntries(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]store.LedgerEntry, error) {
	chain, err := s.LedgerChain(ctx, nil, accountID)
	if err != nil {
		return nil, err
	}
	var out []store.LedgerEntry
	for i := len(chain) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, chain[i])
	}
	return out, nil
}

// AppendRawLedgerEntry writes an entry without touching the balance. It
// exists to simulate ledger corruption.
func (s *Store) AppendRawLedgerEntry(entry store.LedgerEntry) {
	_ = s.write(nil, func(st *state) error {
		st.ledgerSeq++
		entry.Seq = st.ledgerSeq
		if entry.ID == uuid.Nil {
			entry.ID = uuid.New()
		}
		st.ledger = append(st.ledger, entry)
		return nil
	})
}

// Projects

func (s *Store) CreateProject(ctx context.Context, tx store.DBTransaction, project *store.Project, scenes []store.Scene) error {
	return s.write(tx, func(st *state) error {
		if _, ok := st.projects[project.ID]; ok {
			return errors.New("memory: duplicate project")
		}
		now := s.Now()
		p := *project
		p.CreatedAt, p.UpdatedAt = now, now
		st.projects[p.ID] = p
		for _, sc := range scenes {
			sc.ProjectID = p.ID
			sc.AccountID = p.AccountID
			sc.CreatedAt, sc.UpdatedAt = now, now
			st.scenes[sc.ID] = sc
		}
		return nil
	})
}

func (s *Store) GetProject(ctx context.Context, tx store.DBTransaction, id uuid.UUID) (*store.Project, error) {
	var out *store.Project
	err := s.read(tx, func(st *state) error {
		p, ok := st.projects[id]
		if !ok {
			return store.ErrNotFound
		}
		out = &p
		return nil
	})
	return out, err
}

func (s *Store) LockProject(ctx context.Context, tx store.DBTransaction, id uuid.UUID) (*store.Project, error) {
	return s.GetProject(ctx, tx, id)
}

func (s *Store) UpdateProjectStatus(ctx context.Context, tx store.DBTransaction, id uuid.UUID, from []store.ProjectStatus, to store.ProjectStatus) error {
	return s.write(tx, func(st *state) error {
		p, ok := st.projects[id]
		if !ok {
			return store.ErrStaleState
		}
		for _, f := range from {
			if p.Status == f {
				p.Status = to
				p.FinalArtifactURL = nil
				p.UpdatedAt = s.Now()
				st.projects[id] = p
				return nil
			}
		}
		return store.ErrStaleState
	})
}

func (s *Store) SetScenesCompletedCount(ctx context.Context, tx store.DBTransaction, id uuid.UUID, count int) error {
	return s.write(tx, func(st *state) error {
		p, ok := st.projects[id]
		if !ok {
			return nil
		}
		p.ScenesCompletedCount = count
		st.projects[id] = p
		return nil
	})
}

func (s *Store) FinalizeProject(ctx context.Context, tx store.DBTransaction, id uuid.UUID, status store.ProjectStatus, finalURL, errMsg *string) error {
	return s.write(tx, func(st *state) error {
		p, ok := st.projects[id]
		if !ok || p.Status != store.ProjectStatusStitching {
			return store.ErrStaleState
		}
		p.Status = status
		p.FinalArtifactURL = finalURL
		p.ErrorMessage = errMsg
		if status == store.ProjectStatusCompleted {
			p.VideoCounted = true
		}
		p.UpdatedAt = s.Now()
		st.projects[id] = p
		return nil
	})
}

// Scenes

func (s *Store) GetScene(ctx context.Context, tx store.DBTransaction, id uuid.UUID) (*store.Scene, error) {
	if err := s.fault("GetScene"); err != nil {
		return nil, err
	}
	var out *store.Scene
	err := s.read(tx, func(st *state) error {
		sc, ok := st.scenes[id]
		if !ok {
			return store.ErrNotFound
		}
		out = &sc
		return nil
	})
	return out, err
}

func (s *Store) LockScene(ctx context.Context, tx store.DBTransaction, id uuid.UUID) (*store.Scene, error) {
	return s.GetScene(ctx, tx, id)
}

func (s *Store) ListScenes(ctx context.Context, tx store.DBTransaction, projectID uuid.UUID) ([]store.Scene, error) {
	if err := s.fault("ListScenes"); err != nil {
		return nil, err
	}
	var out []store.Scene
	err := s.read(tx, func(st *state) error {
		for _, sc := range st.scenes {
			if sc.ProjectID == projectID {
				out = append(out, sc)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, err
}

func (s *Store) UpdateSceneState(ctx context.Context, tx store.DBTransaction, scene *store.Scene, from store.SceneStatus) error {
	if err := s.fault("UpdateSceneState"); err != nil {
		return err
	}
	return s.write(tx, func(st *state) error {
		cur, ok := st.scenes[scene.ID]
		if !ok || cur.Status != from {
			return store.ErrStaleState
		}
		cur.Status = scene.Status
		cur.GenerationCost = scene.GenerationCost
		cur.RetryCount = scene.RetryCount
		cur.ErrorMessage = scene.ErrorMessage
		cur.ArtifactURL = scene.ArtifactURL
		cur.ThumbnailURL = scene.ThumbnailURL
		cur.ProcessingTimeMs = scene.ProcessingTimeMs
		cur.ProcessingStartedAt = scene.ProcessingStartedAt
		cur.ProcessingCompletedAt = scene.ProcessingCompletedAt
		cur.UpdatedAt = s.Now()
		st.scenes[scene.ID] = cur
		return nil
	})
}

func (s *Store) UpdateSceneContent(ctx context.Context, tx store.DBTransaction, id uuid.UUID, script, movement, tier string) error {
	return s.write(tx, func(st *state) error {
		sc, ok := st.scenes[id]
		if !ok || sc.Status == store.SceneStatusQueued || sc.Status == store.SceneStatusProcessing {
			return store.ErrStaleState
		}
		sc.ScriptText, sc.CameraMovement, sc.CameraTier = script, movement, tier
		sc.UpdatedAt = s.Now()
		st.scenes[id] = sc
		return nil
	})
}

func (s *Store) SetSceneThumbnail(ctx context.Context, tx store.DBTransaction, id uuid.UUID, url string) error {
	return s.write(tx, func(st *state) error {
		sc, ok := st.scenes[id]
		if !ok {
			return nil
		}
		sc.ThumbnailURL = &url
		st.scenes[id] = sc
		return nil
	})
}

func (s *Store) ReorderScenes(ctx context.Context, tx store.DBTransaction, projectID uuid.UUID, order []uuid.UUID) error {
	return s.write(tx, func(st *state) error {
		for i, id := range order {
			sc, ok := st.scenes[id]
			if !ok || sc.ProjectID != projectID {
				return store.ErrNotFound
			}
			sc.Index = i + 1
			st.scenes[id] = sc
		}
		seen := make(map[int]bool)
		for _, sc := range st.scenes {
			if sc.ProjectID != projectID {
				continue
			}
			if seen[sc.Index] {
				return errors.New("memory: duplicate scene index")
			}
			seen[sc.Index] = true
		}
		return nil
	})
}

func (s *Store) CountScenesByStatus(ctx context.Context, tx store.DBTransaction, projectID uuid.UUID, status store.SceneStatus) (int, error) {
	count := 0
	err := s.read(tx, func(st *state) error {
		for _, sc := range st.scenes {
			if sc.ProjectID == projectID && sc.Status == status {
				count++
			}
		}
		return nil
	})
	return count, err
}

// Queue

func (s *Store) CreateQueueEntry(ctx context.Context, tx store.DBTransaction, entry *store.QueueEntry) error {
	if err := s.fault("CreateQueueEntry"); err != nil {
		return err
	}
	return s.write(tx, func(st *state) error {
		for _, e := range st.queue {
			if e.SceneID == entry.SceneID && e.Status.Active() {
				return store.ErrAlreadyQueued
			}
		}
		if entry.ID == uuid.Nil {
			entry.ID = uuid.New()
		}
		if entry.Status == "" {
			entry.Status = store.QueueStatusQueued
		}
		now := s.Now()
		entry.CreatedAt, entry.UpdatedAt = now, now
		st.queue[entry.ID] = *entry
		return nil
	})
}

func (s *Store) GetActiveQueueEntry(ctx context.Context, tx store.DBTransaction, sceneID uuid.UUID) (*store.QueueEntry, error) {
	var out *store.QueueEntry
	err := s.read(tx, func(st *state) error {
		for _, e := range st.queue {
			if e.SceneID == sceneID && e.Status.Active() {
				e := e
				out = &e
				return nil
			}
		}
		return store.ErrNotFound
	})
	return out, err
}

// GetQueueEntry returns any entry by id, active or not.
func (s *Store) GetQueueEntry(id uuid.UUID) (*store.QueueEntry, error) {
	var out *store.QueueEntry
	err := s.read(nil, func(st *state) error {
		e, ok := st.queue[id]
		if !ok {
			return store.ErrNotFound
		}
		out = &e
		return nil
	})
	return out, err
}

func (s *Store) UpdateQueueEntryStatus(ctx context.Context, tx store.DBTransaction, id uuid.UUID, from, to store.QueueStatus, errMsg *string) error {
	if err := s.fault("UpdateQueueEntryStatus"); err != nil {
		return err
	}
	return s.write(tx, func(st *state) error {
		e, ok := st.queue[id]
		if !ok || e.Status != from {
			return store.ErrStaleState
		}
		e.Status = to
		e.ErrorMessage = errMsg
		e.UpdatedAt = s.Now()
		st.queue[id] = e
		return nil
	})
}

func (s *Store) MarkQueueEntryAcked(ctx context.Context, tx store.DBTransaction, id uuid.UUID) error {
	return s.write(tx, func(st *state) error {
		e, ok := st.queue[id]
		if !ok {
			return nil
		}
		now := s.Now()
		if e.WebhookAckAt == nil {
			e.WebhookAckAt = &now
		}
		e.UpdatedAt = now
		st.queue[id] = e
		return nil
	})
}

func (s *Store) ListQueueEntries(ctx context.Context, projectID uuid.UUID) ([]store.QueueEntry, error) {
	var out []store.QueueEntry
	err := s.read(nil, func(st *state) error {
		for _, e := range st.queue {
			if e.ProjectID == projectID {
				out = append(out, e)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, err
}

func (s *Store) ListStaleQueueEntries(ctx context.Context, status store.QueueStatus, olderThan time.Time, limit int) ([]store.QueueEntry, error) {
	var out []store.QueueEntry
	err := s.read(nil, func(st *state) error {
		for _, e := range st.queue {
			if e.Status == status && e.UpdatedAt.Before(olderThan) {
				out = append(out, e)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

func (s *Store) CountActiveQueueEntries(ctx context.Context) (int64, error) {
	var count int64
	err := s.read(nil, func(st *state) error {
		for _, e := range st.queue {
			if e.Status.Active() {
				count++
			}
		}
		return nil
	})
	return count, err
}

// Outbox

func (s *Store) AddOutboxMessage(ctx context.Context, tx store.DBTransaction, msg *store.OutboxMessage) error {
	return s.write(tx, func(st *state) error {
		st.outboxSeq++
		msg.ID = st.outboxSeq
		now := s.Now()
		msg.CreatedAt = now
		if msg.VisibleAfter.IsZero() {
			msg.VisibleAfter = now
		}
		st.outbox = append(st.outbox, *msg)
		return nil
	})
}

func (s *Store) ClaimOutboxBatch(ctx context.Context, limit int, lease time.Duration) ([]store.OutboxMessage, error) {
	if limit <= 0 {
		limit = 1
	}
	var out []store.OutboxMessage
	err := s.write(nil, func(st *state) error {
		now := s.Now()
		for i := range st.outbox {
			m := &st.outbox[i]
			if m.PublishedAt != nil || m.VisibleAfter.After(now) {
				continue
			}
			m.VisibleAfter = now.Add(lease)
			m.Attempts++
			out = append(out, *m)
			if len(out) == limit {
				break
			}
		}
		return nil
	})
	return out, err
}

func (s *Store) MarkOutboxPublished(ctx context.Context, id int64) error {
	return s.write(nil, func(st *state) error {
		for i := range st.outbox {
			if st.outbox[i].ID == id {
				now := s.Now()
				st.outbox[i].PublishedAt = &now
				st.outbox[i].LastError = nil
			}
		}
		return nil
	})
}

func (s *Store) MarkOutboxFailed(ctx context.Context, id int64, errMsg string, retryAt time.Time) error {
	return s.write(nil, func(st *state) error {
		for i := range st.outbox {
			if st.outbox[i].ID == id {
				st.outbox[i].LastError = &errMsg
				st.outbox[i].VisibleAfter = retryAt
			}
		}
		return nil
	})
}

// OutboxMessages returns every outbox message, published or not.
func (s *Store) OutboxMessages() []store.OutboxMessage {
	var out []store.OutboxMessage
	_ = s.read(nil, func(st *state) error {
		out = append(out, st.outbox...)
		return nil
	})
	return out
}
