package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/driftwatch/driftwatch/internal/core"
	"github.com/driftwatch/driftwatch/internal/domain/model"
)

// In-memory fakes for the core ports, shared across the service tests.

type memCacheEntry struct {
	value     []byte
	expiresAt time.Time
}

type memCache struct {
	mu      sync.Mutex
	entries map[string]memCacheEntry
	now     func() time.Time
	setErr  error
	getErr  error
}

func newMemCache() *memCache {
	return &memCache{entries: map[string]memCacheEntry{}, now: time.Now}
}

func (c *memCache) live(key string) (memCacheEntry, bool) {
	e, ok := c.entries[key]
	if !ok {
		return memCacheEntry{}, false
	}
	if !e.expiresAt.IsZero() && !c.now().Before(e.expiresAt) {
		delete(c.entries, key)
		return memCacheEntry{}, false
	}
	return e, true
}

func (c *memCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if c.setErr != nil {
		return c.setErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e := memCacheEntry{value: value}
	if ttl > 0 {
		e.expiresAt = c.now().Add(ttl)
	}
	c.entries[key] = e
	return nil
}

func (c *memCache) Get(_ context.Context, key string) ([]byte, error) {
	if c.getErr != nil {
		return nil, c.getErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.live(key)
	if !ok {
		return nil, nil
	}
	return e.value, nil
}

func (c *memCache) Delete(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.live(key)
	delete(c.entries, key)
	return ok, nil
}

func (c *memCache) Exists(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.live(key)
	return ok, nil
}

func (c *memCache) SetTTL(_ context.Context, key string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.live(key)
	if !ok {
		return false, nil
	}
	e.expiresAt = c.now().Add(ttl)
	c.entries[key] = e
	return true, nil
}

func (c *memCache) TTL(_ context.Context, key string) (time.Duration, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.live(key)
	if !ok || e.expiresAt.IsZero() {
		return 0, false, nil
	}
	return e.expiresAt.Sub(c.now()), true, nil
}

func (c *memCache) SetIfNotExists(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if c.setErr != nil {
		return false, c.setErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.live(key); ok {
		return false, nil
	}
	e := memCacheEntry{value: value}
	if ttl > 0 {
		e.expiresAt = c.now().Add(ttl)
	}
	c.entries[key] = e
	return true, nil
}

func (c *memCache) IncrBy(_ context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var current int64
	e, ok := c.live(key)
	if ok {
		_, _ = fmt.Sscanf(string(e.value), "%d", &current)
	}
	current += delta
	next := memCacheEntry{value: []byte(fmt.Sprintf("%d", current))}
	if ok {
		next.expiresAt = e.expiresAt
	} else if ttl > 0 {
		next.expiresAt = c.now().Add(ttl)
	}
	c.entries[key] = next
	return current, nil
}

func (c *memCache) Health(context.Context) error { return nil }

var _ core.CacheRepository = (*memCache)(nil)

type fakeRuleRepo struct {
	mu                 sync.Mutex
	rules              map[string]*model.Rule
	due                []*model.Rule
	claimErr           error
	healthUpdates      []core.UpdateHealthParams
	scheduleUpdates    []core.ApplyScheduleParams
	nextRunUpdates     []core.UpdateNextRunParams
	selectorUpdates    []string
	healEvents         []model.HealEvent
	fingerprints       []*model.SelectorFingerprint
	schemaFingerprints []*model.SchemaFingerprint
}

func newFakeRuleRepo(rules ...*model.Rule) *fakeRuleRepo {
	repo := &fakeRuleRepo{rules: map[string]*model.Rule{}}
	for _, r := range rules {
		repo.rules[r.ID] = r
	}
	return repo
}

func (r *fakeRuleRepo) Create(context.Context, model.CreateRuleRequest) (*model.Rule, error) {
	return nil, nil
}

func (r *fakeRuleRepo) GetByID(_ context.Context, id string) (*model.Rule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rules[id], nil
}

func (r *fakeRuleRepo) List(context.Context, model.RuleListOptions) ([]*model.Rule, error) {
	return nil, nil
}

func (r *fakeRuleRepo) Update(context.Context, string, model.UpdateRuleRequest) (*model.Rule, error) {
	return nil, nil
}

func (r *fakeRuleRepo) Delete(context.Context, string) (bool, error) { return false, nil }

func (r *fakeRuleRepo) GetBySource(context.Context, string, *bool) ([]*model.Rule, error) {
	return nil, nil
}

func (r *fakeRuleRepo) ClaimDue(_ context.Context, p core.ClaimDueParams) ([]*model.Rule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.claimErr != nil {
		return nil, r.claimErr
	}
	n := len(r.due)
	if p.Limit > 0 && n > p.Limit {
		n = p.Limit
	}
	claimed := r.due[:n]
	r.due = r.due[n:]
	return claimed, nil
}

func (r *fakeRuleRepo) UpdateNextRun(_ context.Context, p core.UpdateNextRunParams) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextRunUpdates = append(r.nextRunUpdates, p)
	return nil
}

func (r *fakeRuleRepo) UpdateHealth(_ context.Context, p core.UpdateHealthParams) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.healthUpdates = append(r.healthUpdates, p)
	if rule, ok := r.rules[p.RuleID]; ok {
		rule.HealthScore = p.HealthScore
		rule.LastErrorCode = p.LastErrorCode
	}
	return nil
}

func (r *fakeRuleRepo) ApplySchedule(_ context.Context, p core.ApplyScheduleParams) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scheduleUpdates = append(r.scheduleUpdates, p)
	if rule, ok := r.rules[p.RuleID]; ok {
		rule.Schedule = p.Schedule
		if p.OriginalSchedule != nil {
			rule.OriginalSchedule = p.OriginalSchedule
		}
		rule.CaptchaIntervalEnforced = p.CaptchaIntervalEnforced
	}
	return nil
}

func (r *fakeRuleRepo) UpdateFingerprint(_ context.Context, _ string, fp *model.SelectorFingerprint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fingerprints = append(r.fingerprints, fp)
	return nil
}

func (r *fakeRuleRepo) UpdateSchemaFingerprint(_ context.Context, _ string, fp *model.SchemaFingerprint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemaFingerprints = append(r.schemaFingerprints, fp)
	return nil
}

func (r *fakeRuleRepo) AppendHealEvent(_ context.Context, _ string, ev model.HealEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.healEvents = append(r.healEvents, ev)
	return nil
}

func (r *fakeRuleRepo) UpdateSelector(_ context.Context, _ string, selector string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.selectorUpdates = append(r.selectorUpdates, selector)
	return nil
}

var _ core.RuleRepository = (*fakeRuleRepo)(nil)

type fakeStateRepo struct {
	mu        sync.Mutex
	states    map[string]*model.RuleState
	failSaves int
	saveCalls int
}

func newFakeStateRepo() *fakeStateRepo {
	return &fakeStateRepo{states: map[string]*model.RuleState{}}
}

func (r *fakeStateRepo) Get(_ context.Context, ruleID string) (*model.RuleState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.states[ruleID]; ok {
		copied := *s
		return &copied, nil
	}
	return &model.RuleState{RuleID: ruleID}, nil
}

func (r *fakeStateRepo) Save(_ context.Context, p core.SaveRuleStateParams) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saveCalls++
	if r.failSaves > 0 {
		r.failSaves--
		return false, nil
	}
	existing, ok := r.states[p.State.RuleID]
	if ok && existing.Version != p.ExpectedVersion {
		return false, nil
	}
	if !ok && p.ExpectedVersion != 0 {
		return false, nil
	}
	copied := *p.State
	r.states[p.State.RuleID] = &copied
	return true, nil
}

func (r *fakeStateRepo) Delete(_ context.Context, ruleID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.states, ruleID)
	return nil
}

var _ core.RuleStateRepository = (*fakeStateRepo)(nil)

type fakeRunRepo struct {
	mu           sync.Mutex
	seq          int
	created      []*model.Run
	finished     []model.FinishRunParams
	cleared      []time.Time
	clearBatches []int64
}

func newFakeRunRepo() *fakeRunRepo { return &fakeRunRepo{} }

func (r *fakeRunRepo) Create(_ context.Context, req *model.CreateRunRequest) (*model.Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	run := &model.Run{
		ID:            fmt.Sprintf("run-%d", r.seq),
		RuleID:        req.RuleID,
		StartedAt:     req.StartedAt,
		FetchModeUsed: req.FetchModeUsed,
	}
	r.created = append(r.created, run)
	return run, nil
}

func (r *fakeRunRepo) GetByID(context.Context, string) (*model.Run, error) { return nil, nil }

func (r *fakeRunRepo) Finish(_ context.Context, p model.FinishRunParams) (*model.Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, p)
	return &model.Run{ID: p.RunID}, nil
}

func (r *fakeRunRepo) ListByRule(context.Context, string, int) ([]*model.Run, error) {
	return nil, nil
}

func (r *fakeRunRepo) ClearOldRawSamples(_ context.Context, cutoff time.Time, _ int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleared = append(r.cleared, cutoff)
	if len(r.clearBatches) == 0 {
		return 0, nil
	}
	n := r.clearBatches[0]
	r.clearBatches = r.clearBatches[1:]
	return n, nil
}

func (r *fakeRunRepo) lastFinish() model.FinishRunParams {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.finished) == 0 {
		return model.FinishRunParams{}
	}
	return r.finished[len(r.finished)-1]
}

var _ core.RunRepository = (*fakeRunRepo)(nil)

type fakeObservationRepo struct {
	mu      sync.Mutex
	created []*model.CreateObservationRequest
}

func newFakeObservationRepo() *fakeObservationRepo { return &fakeObservationRepo{} }

func (r *fakeObservationRepo) Create(_ context.Context, req *model.CreateObservationRequest) (*model.Observation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created = append(r.created, req)
	return &model.Observation{ID: fmt.Sprintf("obs-%d", len(r.created)), RunID: req.RunID}, nil
}

func (r *fakeObservationRepo) GetByRun(context.Context, string) (*model.Observation, error) {
	return nil, nil
}

func (r *fakeObservationRepo) ListByRule(context.Context, string, int) ([]*model.Observation, error) {
	return nil, nil
}

var _ core.ObservationRepository = (*fakeObservationRepo)(nil)

type fakeAlertRepo struct {
	mu           sync.Mutex
	seq          int
	byDedupe     map[string]*model.Alert
	refreshed    []string
	channelsSent map[string][]string
}

func newFakeAlertRepo() *fakeAlertRepo {
	return &fakeAlertRepo{byDedupe: map[string]*model.Alert{}, channelsSent: map[string][]string{}}
}

func (r *fakeAlertRepo) Create(_ context.Context, req *model.CreateAlertRequest) (*model.Alert, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byDedupe[req.DedupeKey]; ok {
		return existing, false, nil
	}
	r.seq++
	alert := &model.Alert{
		ID:          fmt.Sprintf("alert-%d", r.seq),
		RuleID:      req.RuleID,
		TriggeredAt: req.TriggeredAt,
		Severity:    req.Severity,
		AlertType:   req.AlertType,
		Title:       req.Title,
		Body:        req.Body,
		Metadata:    req.Metadata,
		DedupeKey:   req.DedupeKey,
	}
	r.byDedupe[req.DedupeKey] = alert
	return alert, true, nil
}

func (r *fakeAlertRepo) GetByID(_ context.Context, id string) (*model.Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.byDedupe {
		if a.ID == id {
			return a, nil
		}
	}
	return nil, nil
}

func (r *fakeAlertRepo) GetByDedupeKey(_ context.Context, key string) (*model.Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byDedupe[key], nil
}

func (r *fakeAlertRepo) List(context.Context, *model.AlertListOptions) ([]*model.Alert, error) {
	return nil, nil
}

func (r *fakeAlertRepo) Stats(context.Context, *string) (*model.AlertStats, error) {
	return nil, nil
}

func (r *fakeAlertRepo) Resolve(context.Context, core.ResolveAlertParams) (*model.Alert, error) {
	return nil, nil
}

func (r *fakeAlertRepo) Acknowledge(context.Context, core.AcknowledgeAlertParams) (*model.Alert, error) {
	return nil, nil
}

func (r *fakeAlertRepo) MarkChannelsSent(_ context.Context, id string, channels []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channelsSent[id] = append(r.channelsSent[id], channels...)
	return nil
}

func (r *fakeAlertRepo) RefreshTriggeredAt(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refreshed = append(r.refreshed, id)
	for _, a := range r.byDedupe {
		if a.ID == id {
			a.TriggeredAt = at
		}
	}
	return nil
}

func (r *fakeAlertRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byDedupe)
}

var _ core.AlertRepository = (*fakeAlertRepo)(nil)

type fakeSourceRepo struct {
	sources map[string]*model.Source
}

func newFakeSourceRepo(sources ...*model.Source) *fakeSourceRepo {
	repo := &fakeSourceRepo{sources: map[string]*model.Source{}}
	for _, s := range sources {
		repo.sources[s.ID] = s
	}
	return repo
}

func (r *fakeSourceRepo) Create(context.Context, *model.CreateSourceRequest) (*model.Source, error) {
	return nil, nil
}

func (r *fakeSourceRepo) GetByID(_ context.Context, id string) (*model.Source, error) {
	return r.sources[id], nil
}

func (r *fakeSourceRepo) GetByCanonicalURL(context.Context, string, string) (*model.Source, error) {
	return nil, nil
}

func (r *fakeSourceRepo) List(context.Context, int, int) ([]*model.Source, error) { return nil, nil }

func (r *fakeSourceRepo) Update(context.Context, string, model.UpdateSourceRequest) (*model.Source, error) {
	return nil, nil
}

func (r *fakeSourceRepo) Delete(context.Context, string) (bool, error) { return false, nil }

var _ core.SourceRepository = (*fakeSourceRepo)(nil)

type fakeWorkspaceRepo struct {
	workspaces map[string]*model.Workspace
}

func newFakeWorkspaceRepo(workspaces ...*model.Workspace) *fakeWorkspaceRepo {
	repo := &fakeWorkspaceRepo{workspaces: map[string]*model.Workspace{}}
	for _, w := range workspaces {
		repo.workspaces[w.ID] = w
	}
	return repo
}

func (r *fakeWorkspaceRepo) Create(context.Context, *model.CreateWorkspaceRequest) (*model.Workspace, error) {
	return nil, nil
}

func (r *fakeWorkspaceRepo) GetByID(_ context.Context, id string) (*model.Workspace, error) {
	return r.workspaces[id], nil
}

func (r *fakeWorkspaceRepo) List(context.Context, int, int) ([]*model.Workspace, error) {
	return nil, nil
}

func (r *fakeWorkspaceRepo) Update(context.Context, string, model.UpdateWorkspaceRequest) (*model.Workspace, error) {
	return nil, nil
}

func (r *fakeWorkspaceRepo) Delete(context.Context, string) (bool, error) { return false, nil }

var _ core.WorkspaceRepository = (*fakeWorkspaceRepo)(nil)

type fakeProfileRepo struct {
	profiles map[string]*model.FetchProfile
}

func newFakeProfileRepo(profiles ...*model.FetchProfile) *fakeProfileRepo {
	repo := &fakeProfileRepo{profiles: map[string]*model.FetchProfile{}}
	for _, p := range profiles {
		repo.profiles[p.ID] = p
	}
	return repo
}

func (r *fakeProfileRepo) Create(context.Context, *model.CreateFetchProfileRequest) (*model.FetchProfile, error) {
	return nil, nil
}

func (r *fakeProfileRepo) GetByID(_ context.Context, id string) (*model.FetchProfile, error) {
	return r.profiles[id], nil
}

func (r *fakeProfileRepo) List(context.Context, int, int) ([]*model.FetchProfile, error) {
	return nil, nil
}

func (r *fakeProfileRepo) Update(context.Context, string, model.UpdateFetchProfileRequest) (*model.FetchProfile, error) {
	return nil, nil
}

func (r *fakeProfileRepo) Delete(context.Context, string) (bool, error) { return false, nil }

var _ core.FetchProfileRepository = (*fakeProfileRepo)(nil)

type fakeJobRepo struct {
	mu        sync.Mutex
	seq       int
	created   []*model.CreateJobRequest
	createErr error
	completed []string
	failed    []string
}

func newFakeJobRepo() *fakeJobRepo { return &fakeJobRepo{} }

func (r *fakeJobRepo) Create(_ context.Context, req *model.CreateJobRequest) (*model.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return nil, r.createErr
	}
	r.seq++
	r.created = append(r.created, req)
	return &model.Job{ID: fmt.Sprintf("job-%d", r.seq), Type: req.Type, Payload: req.Payload}, nil
}

func (r *fakeJobRepo) GetByID(context.Context, string) (*model.Job, error) { return nil, nil }

func (r *fakeJobRepo) ReserveNext(context.Context, model.JobType, int) (*model.Job, error) {
	return nil, model.ErrNoJobsAvailable
}

func (r *fakeJobRepo) WaitForNotification(ctx context.Context, _ model.JobType) error {
	<-ctx.Done()
	return ctx.Err()
}

func (r *fakeJobRepo) Heartbeat(context.Context, string, int) (bool, error) { return true, nil }

func (r *fakeJobRepo) Complete(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = append(r.completed, id)
	return true, nil
}

func (r *fakeJobRepo) Fail(_ context.Context, id, _ string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, id)
	return true, nil
}

func (r *fakeJobRepo) Stats(context.Context, model.JobType) (*model.JobStats, error) {
	return nil, nil
}

func (r *fakeJobRepo) Delete(context.Context, string) error { return nil }

func (r *fakeJobRepo) byType(jobType model.JobType) []*model.CreateJobRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.CreateJobRequest
	for _, req := range r.created {
		if req.Type == jobType {
			out = append(out, req)
		}
	}
	return out
}

var _ core.JobRepository = (*fakeJobRepo)(nil)

type fakeAttemptRepo struct {
	mu            sync.Mutex
	created       []*model.CreateFetchAttemptRequest
	deleteCutoffs []time.Time
	deleteBatches []int64
}

func newFakeAttemptRepo() *fakeAttemptRepo { return &fakeAttemptRepo{} }

func (r *fakeAttemptRepo) Create(_ context.Context, req *model.CreateFetchAttemptRequest) (*model.FetchAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created = append(r.created, req)
	return &model.FetchAttempt{}, nil
}

func (r *fakeAttemptRepo) DailySpend(context.Context, model.SpendQuery) (*model.DailySpend, error) {
	return &model.DailySpend{}, nil
}

func (r *fakeAttemptRepo) ListByRule(context.Context, string, int) ([]*model.FetchAttempt, error) {
	return nil, nil
}

func (r *fakeAttemptRepo) DeleteOlderThan(_ context.Context, cutoff time.Time, _ int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleteCutoffs = append(r.deleteCutoffs, cutoff)
	if len(r.deleteBatches) == 0 {
		return 0, nil
	}
	n := r.deleteBatches[0]
	r.deleteBatches = r.deleteBatches[1:]
	return n, nil
}

var _ core.FetchAttemptRepository = (*fakeAttemptRepo)(nil)

type fakeMaintenanceLocker struct {
	mu       sync.Mutex
	denied   bool
	executed []string
}

func (l *fakeMaintenanceLocker) TryWithTaskLock(ctx context.Context, taskName string, fn func(context.Context, *sql.Tx) error) (bool, error) {
	l.mu.Lock()
	if l.denied {
		l.mu.Unlock()
		return false, nil
	}
	l.executed = append(l.executed, taskName)
	l.mu.Unlock()
	if err := fn(ctx, nil); err != nil {
		return true, err
	}
	return true, nil
}

var _ core.MaintenanceLocker = (*fakeMaintenanceLocker)(nil)

type fakeChannelRepo struct {
	mu       sync.Mutex
	channels map[string]*model.Channel
}

func newFakeChannelRepo(channels ...*model.Channel) *fakeChannelRepo {
	r := &fakeChannelRepo{channels: make(map[string]*model.Channel)}
	for _, ch := range channels {
		r.channels[ch.ID] = ch
	}
	return r
}

func (r *fakeChannelRepo) Create(_ context.Context, req *model.CreateChannelRequest) (*model.Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch := &model.Channel{
		ID:              fmt.Sprintf("ch-%d", len(r.channels)+1),
		WorkspaceID:     req.WorkspaceID,
		Kind:            req.Kind,
		Name:            req.Name,
		EncryptedConfig: req.EncryptedConfig,
		Enabled:         req.Enabled,
	}
	r.channels[ch.ID] = ch
	return ch, nil
}

func (r *fakeChannelRepo) GetByID(_ context.Context, id string) (*model.Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.channels[id], nil
}

func (r *fakeChannelRepo) ListByWorkspace(_ context.Context, workspaceID string) ([]*model.Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Channel
	for _, ch := range r.channels {
		if ch.WorkspaceID == workspaceID {
			out = append(out, ch)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakeChannelRepo) Delete(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.channels[id]
	delete(r.channels, id)
	return ok, nil
}

var _ core.ChannelRepository = (*fakeChannelRepo)(nil)
