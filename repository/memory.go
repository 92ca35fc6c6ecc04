package repository

import (
	"context"
	"github.com/google/uuid"
	"live-monitor/constant"
	"live-monitor/entities"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is a SessionStore held in process memory. It backs local runs
// without postgres and the service tests; records are copied in and out so
// callers never share state with the store.
type MemoryRepo struct {
	mu            sync.RWMutex
	users         map[uuid.UUID]*entities.User
	accounts      map[uuid.UUID]*entities.TrackedAccount
	sessions      map[uuid.UUID]*entities.LiveSession
	segments      map[uuid.UUID]*entities.TranscriptSegment
	analyses      map[uuid.UUID]*entities.RiskAnalysis
	alerts        map[uuid.UUID]*entities.ModerationAlert
	notifications map[uuid.UUID]*entities.Notification
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		users:         make(map[uuid.UUID]*entities.User),
		accounts:      make(map[uuid.UUID]*entities.TrackedAccount),
		sessions:      make(map[uuid.UUID]*entities.LiveSession),
		segments:      make(map[uuid.UUID]*entities.TranscriptSegment),
		analyses:      make(map[uuid.UUID]*entities.RiskAnalysis),
		alerts:        make(map[uuid.UUID]*entities.ModerationAlert),
		notifications: make(map[uuid.UUID]*entities.Notification),
	}
}

// PutUser inserts or replaces a user. Users are owned by the external auth
// system; this is how they are seeded locally.
func (m *MemoryRepo) PutUser(user *entities.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ensureID(&user.ID)
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}
	u := *user
	m.users[u.ID] = &u
}

func (m *MemoryRepo) GetUser(ctx context.Context, id uuid.UUID) (*entities.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	out := *u
	return &out, nil
}

func (m *MemoryRepo) ListAdmins(ctx context.Context) ([]*entities.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var admins []*entities.User
	for _, u := range m.users {
		if u.IsAdmin() {
			out := *u
			admins = append(admins, &out)
		}
	}
	sort.Slice(admins, func(i, j int) bool { return admins[i].CreatedAt.Before(admins[j].CreatedAt) })
	return admins, nil
}

func (m *MemoryRepo) CreateAccount(ctx context.Context, account *entities.TrackedAccount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.OwnerId == account.OwnerId && a.Handle == account.Handle {
			return ErrDuplicateAccount
		}
	}
	ensureID(&account.ID)
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now()
	}
	a := *account
	m.accounts[a.ID] = &a
	return nil
}

func (m *MemoryRepo) GetAccount(ctx context.Context, id uuid.UUID) (*entities.TrackedAccount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, nil
	}
	out := *a
	return &out, nil
}

func (m *MemoryRepo) ListAccounts(ctx context.Context) ([]*entities.TrackedAccount, error) {
	return m.listAccounts(func(*entities.TrackedAccount) bool { return true }), nil
}

func (m *MemoryRepo) ListAccountsByOwner(ctx context.Context, ownerId uuid.UUID) ([]*entities.TrackedAccount, error) {
	return m.listAccounts(func(a *entities.TrackedAccount) bool { return a.OwnerId == ownerId }), nil
}

func (m *MemoryRepo) listAccounts(keep func(*entities.TrackedAccount) bool) []*entities.TrackedAccount {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*entities.TrackedAccount
	for _, a := range m.accounts {
		if keep(a) {
			c := *a
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (m *MemoryRepo) DeleteAccount(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.accounts, id)
	for sid, s := range m.sessions {
		if s.AccountId == id {
			m.deleteSessionLocked(sid)
		}
	}
	return nil
}

func (m *MemoryRepo) deleteSessionLocked(sessionId uuid.UUID) {
	delete(m.sessions, sessionId)
	for segId, seg := range m.segments {
		if seg.LiveSessionId != sessionId {
			continue
		}
		delete(m.segments, segId)
		for aid, a := range m.analyses {
			if a.SegmentId == segId {
				delete(m.analyses, aid)
			}
		}
	}
	for id, alert := range m.alerts {
		if alert.LiveSessionId == sessionId {
			delete(m.alerts, id)
		}
	}
	for id, n := range m.notifications {
		if n.LiveSessionId == sessionId {
			delete(m.notifications, id)
		}
	}
}

func (m *MemoryRepo) ActiveSession(ctx context.Context, accountId uuid.UUID) (*entities.LiveSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s := m.activeLocked(accountId); s != nil {
		out := *s
		return &out, nil
	}
	return nil, nil
}

func (m *MemoryRepo) activeLocked(accountId uuid.UUID) *entities.LiveSession {
	for _, s := range m.sessions {
		if s.AccountId == accountId && s.IsActive() {
			return s
		}
	}
	return nil
}

func (m *MemoryRepo) CreateSession(ctx context.Context, session *entities.LiveSession) (*entities.LiveSession, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[session.AccountId]; !ok {
		return nil, false, ErrNotFound
	}
	if existing := m.activeLocked(session.AccountId); existing != nil {
		out := *existing
		return &out, false, nil
	}

	ensureID(&session.ID)
	now := time.Now()
	session.Status = constant.SessionStatusActive
	session.CreatedAt, session.UpdatedAt = now, now
	s := *session
	m.sessions[s.ID] = &s
	out := s
	return &out, true, nil
}

func (m *MemoryRepo) GetSession(ctx context.Context, id uuid.UUID) (*entities.LiveSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	out := *s
	return &out, nil
}

func (m *MemoryRepo) SessionExists(ctx context.Context, id uuid.UUID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.sessions[id]
	return ok, nil
}

func (m *MemoryRepo) ListSessions(ctx context.Context, accountId uuid.UUID) ([]*entities.LiveSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*entities.LiveSession
	for _, s := range m.sessions {
		if s.AccountId == accountId {
			c := *s
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}

func (m *MemoryRepo) EndSession(ctx context.Context, id uuid.UUID, endedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || !s.IsActive() {
		return nil
	}
	s.Status = constant.SessionStatusEnded
	s.EndedAt = &endedAt
	s.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryRepo) SaveSegment(ctx context.Context, segment *entities.TranscriptSegment) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[segment.LiveSessionId]; !ok {
		return false, nil
	}
	ensureID(&segment.ID)
	seg := *segment
	seg.Analysis = nil
	m.segments[seg.ID] = &seg
	return true, nil
}

func (m *MemoryRepo) SaveAnalysis(ctx context.Context, analysis *entities.RiskAnalysis) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.segments[analysis.SegmentId]; !ok {
		return ErrNotFound
	}
	ensureID(&analysis.ID)
	if analysis.CreatedAt.IsZero() {
		analysis.CreatedAt = time.Now()
	}
	a := *analysis
	m.analyses[a.ID] = &a
	return nil
}

func (m *MemoryRepo) NextSegmentIndex(ctx context.Context, sessionId uuid.UUID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	next := 0
	for _, seg := range m.segments {
		if seg.LiveSessionId == sessionId && seg.SegmentIndex >= next {
			next = seg.SegmentIndex + 1
		}
	}
	return next, nil
}

func (m *MemoryRepo) ListSegments(ctx context.Context, sessionId uuid.UUID) ([]*entities.TranscriptSegment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*entities.TranscriptSegment
	for _, seg := range m.segments {
		if seg.LiveSessionId != sessionId {
			continue
		}
		c := *seg
		for _, a := range m.analyses {
			if a.SegmentId == seg.ID {
				ac := *a
				c.Analysis = &ac
			}
		}
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SegmentIndex < out[j].SegmentIndex })
	return out, nil
}

func (m *MemoryRepo) CreateAlerts(ctx context.Context, analysis *entities.RiskAnalysis, sessionId uuid.UUID, admins []*entities.User) ([]*entities.ModerationAlert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.analyses[analysis.ID]; !ok {
		return nil, ErrNotFound
	}
	now := time.Now()
	alerts := make([]*entities.ModerationAlert, 0, len(admins))
	for _, admin := range admins {
		alert := &entities.ModerationAlert{
			ID:              uuid.New(),
			AnalysisId:      analysis.ID,
			LiveSessionId:   sessionId,
			NotifiedAdminId: admin.ID,
			Status:          constant.AlertStatusPending,
			CreatedAt:       now,
		}
		stored := *alert
		m.alerts[alert.ID] = &stored
		alerts = append(alerts, alert)
	}
	return alerts, nil
}

func (m *MemoryRepo) ListAlerts(ctx context.Context, adminId uuid.UUID, status constant.AlertStatus) ([]*entities.ModerationAlert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*entities.ModerationAlert
	for _, alert := range m.alerts {
		if alert.NotifiedAdminId != adminId || (status != "" && alert.Status != status) {
			continue
		}
		c := *alert
		if a, ok := m.analyses[alert.AnalysisId]; ok {
			ac := *a
			c.Analysis = &ac
		}
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryRepo) ResolveAlert(ctx context.Context, alertId, adminId uuid.UUID, status constant.AlertStatus, notes string) (*entities.ModerationAlert, error) {
	if !validResolution(status) {
		return nil, ErrInvalidStatus
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	alert, ok := m.alerts[alertId]
	if !ok {
		return nil, ErrNotFound
	}
	if alert.Status != constant.AlertStatusPending {
		return nil, ErrAlreadyResolved
	}
	now := time.Now()
	resolver := adminId
	alert.Status = status
	alert.ResolvedById = &resolver
	alert.ResolvedAt = &now
	alert.Notes = notes
	out := *alert
	return &out, nil
}

func (m *MemoryRepo) CreateNotification(ctx context.Context, notification *entities.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ensureID(&notification.ID)
	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = time.Now()
	}
	n := *notification
	m.notifications[n.ID] = &n
	return nil
}

func (m *MemoryRepo) ListNotifications(ctx context.Context, userId uuid.UUID, unreadOnly bool) ([]*entities.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*entities.Notification
	for _, n := range m.notifications {
		if n.UserId != userId || (unreadOnly && n.IsRead) {
			continue
		}
		c := *n
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryRepo) MarkNotificationsRead(ctx context.Context, userId uuid.UUID, sessionId *uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, notif := range m.notifications {
		if notif.UserId != userId || notif.IsRead {
			continue
		}
		if sessionId != nil && notif.LiveSessionId != *sessionId {
			continue
		}
		notif.IsRead = true
		n++
	}
	return n, nil
}

func (m *MemoryRepo) AccountStatus(ctx context.Context, accountId uuid.UUID) (constant.AccountStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var live, seen bool
	for _, s := range m.sessions {
		if s.AccountId != accountId {
			continue
		}
		seen = true
		if s.IsActive() {
			live = true
		}
	}
	return accountStatus(live, seen), nil
}
