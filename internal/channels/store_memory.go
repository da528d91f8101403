package channels

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store with the same contract as PostgresStore.
// It is intended for tests and local runs without a database.
type MemoryStore struct {
	mu   sync.Mutex
	rows map[string]*Channel
	now  func() time.Time

	// FailWrites, when set, makes every mutation fail with it (no change applied).
	FailWrites error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string]*Channel), now: time.Now}
}

// SetClock overrides the time source.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) ListForClient(_ context.Context, clientID string) ([]Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filter(func(c *Channel) bool { return c.ClientID != "" && c.ClientID == clientID }), nil
}

func (s *MemoryStore) ListAll(_ context.Context) ([]Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filter(func(*Channel) bool { return true }), nil
}

func (s *MemoryStore) GetByInstanceName(_ context.Context, instanceName string) (Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c := s.activeByName(instanceName); c != nil {
		return *c, nil
	}
	return Channel{}, ErrChannelNotFound
}

func (s *MemoryStore) GetByID(_ context.Context, id string) (Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.rows[id]; ok && c.IsActive {
		return *c, nil
	}
	return Channel{}, ErrChannelNotFound
}

func (s *MemoryStore) CreateOwnership(ctx context.Context, clientID, instanceName string, t ChannelType, config JSONMap) (Channel, error) {
	if clientID == "" {
		return Channel{}, fmt.Errorf("%w: client_id is required", ErrInvalidArgument)
	}
	return s.Create(ctx, Channel{ClientID: clientID, InstanceName: instanceName, Type: t, Config: config})
}

func (s *MemoryStore) Create(_ context.Context, c Channel) (Channel, error) {
	c = withDefaults(c)
	if err := validateNew(c); err != nil {
		return Channel{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites != nil {
		return Channel{}, s.FailWrites
	}
	if s.activeByName(c.InstanceName) != nil {
		return Channel{}, fmt.Errorf("%w: instance %q already has an active channel", ErrConflict, c.InstanceName)
	}

	now := s.now().UTC()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.CreatedAt = now
	c.UpdatedAt = now
	c.Config = cloneMap(c.Config)
	row := c
	s.rows[c.ID] = &row
	return c, nil
}

func (s *MemoryStore) VerifyOwnership(_ context.Context, instanceName, clientID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.activeByName(instanceName)
	return c != nil && clientID != "" && c.ClientID == clientID, nil
}

func (s *MemoryStore) SoftDeleteOwnership(_ context.Context, instanceName, clientID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites != nil {
		return false, s.FailWrites
	}
	c := s.activeByName(instanceName)
	if c == nil || clientID == "" || c.ClientID != clientID {
		return false, nil
	}
	c.IsActive = false
	c.UpdatedAt = s.now().UTC()
	return true, nil
}

func (s *MemoryStore) SoftDelete(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites != nil {
		return false, s.FailWrites
	}
	c, ok := s.rows[id]
	if !ok || !c.IsActive {
		return false, nil
	}
	c.IsActive = false
	c.UpdatedAt = s.now().UTC()
	return true, nil
}

func (s *MemoryStore) UpdateStatusFromWebhook(_ context.Context, instanceName string, status Status, phone, avatar string) (Channel, error) {
	if !status.Valid() {
		return Channel{}, fmt.Errorf("%w: status %q", ErrInvalidArgument, status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites != nil {
		return Channel{}, s.FailWrites
	}
	c := s.activeByName(instanceName)
	if c == nil {
		return Channel{}, ErrChannelNotFound
	}
	now := s.now().UTC()
	c.Status = status
	if phone != "" {
		c.PhoneNumber = phone
	}
	if avatar != "" {
		c.AvatarURL = avatar
	}
	if status == StatusConnected {
		t := now
		c.LastConnectedAt = &t
	}
	c.UpdatedAt = now
	return *c, nil
}

func (s *MemoryStore) UpdateIntegration(_ context.Context, id string, u IntegrationUpdate) (Channel, error) {
	if err := u.validate(); err != nil {
		return Channel{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites != nil {
		return Channel{}, s.FailWrites
	}
	c, ok := s.rows[id]
	if !ok || !c.IsActive {
		return Channel{}, ErrChannelNotFound
	}
	u.apply(c)
	c.UpdatedAt = s.now().UTC()
	return *c, nil
}

// Rows returns every row, inactive ones included, ordered by creation.
func (s *MemoryStore) Rows() []Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Channel, 0, len(s.rows))
	for _, c := range s.rows {
		out = append(out, *c)
	}
	sortChannels(out)
	return out
}

func (s *MemoryStore) activeByName(name string) *Channel {
	for _, c := range s.rows {
		if c.IsActive && c.InstanceName == name {
			return c
		}
	}
	return nil
}

func (s *MemoryStore) filter(keep func(*Channel) bool) []Channel {
	out := []Channel{}
	for _, c := range s.rows {
		if c.IsActive && keep(c) {
			out = append(out, *c)
		}
	}
	sortChannels(out)
	return out
}

func sortChannels(cs []Channel) {
	sort.SliceStable(cs, func(i, j int) bool {
		if cs[i].CreatedAt.Equal(cs[j].CreatedAt) {
			return cs[i].InstanceName < cs[j].InstanceName
		}
		return cs[i].CreatedAt.Before(cs[j].CreatedAt)
	})
}

func cloneMap(m JSONMap) JSONMap {
	out := make(JSONMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
