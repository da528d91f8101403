package channels

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"channel-platform/internal/agents"
	"channel-platform/internal/audit"
	"channel-platform/internal/evolution"

	"github.com/stretchr/testify/require"
)

const (
	clientA = "11111111-1111-1111-1111-111111111111"
	clientB = "22222222-2222-2222-2222-222222222222"
)

var (
	ownerA = Caller{UserID: "user-a", ClientID: clientA, Role: "owner"}
	ownerB = Caller{UserID: "user-b", ClientID: clientB, Role: "owner"}
	admin  = Caller{UserID: "root", Role: "admin", Admin: true}
)

type botCall struct {
	op       string
	botID    string
	instance string
	agentURL string
	apiKey   string
	opts     evolution.BotOptions
}

// fakeGateway is a scriptable Gateway. Zero values answer with empty
// payloads and no error.
type fakeGateway struct {
	mu sync.Mutex

	instances []evolution.Payload
	listErr   error

	states     map[string]evolution.Payload
	stateErrs  map[string]error
	stateErr   error
	stateDelay time.Duration
	inFlight   atomic.Int32
	maxFlight  atomic.Int32

	createResp evolution.Payload
	createErr  error
	created    []evolution.CreateInstanceRequest
	connectRes evolution.Payload
	deleteErr  error
	deleted    []string

	bots         []evolution.Payload
	findErr      error
	botResp      evolution.Payload
	botErr       error
	deleteBotErr error
	botCalls     []botCall

	calls []string
}

func (g *fakeGateway) note(op string) {
	g.mu.Lock()
	g.calls = append(g.calls, op)
	g.mu.Unlock()
}

func (g *fakeGateway) called(op string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, c := range g.calls {
		if c == op {
			n++
		}
	}
	return n
}

func (g *fakeGateway) lastBotCall(t *testing.T) botCall {
	t.Helper()
	g.mu.Lock()
	defer g.mu.Unlock()
	require.NotEmpty(t, g.botCalls)
	return g.botCalls[len(g.botCalls)-1]
}

func (g *fakeGateway) ListInstances(context.Context) ([]evolution.Payload, error) {
	g.note("list_instances")
	return g.instances, g.listErr
}

func (g *fakeGateway) CreateInstance(_ context.Context, req evolution.CreateInstanceRequest) (evolution.Payload, error) {
	g.note("create_instance")
	g.mu.Lock()
	g.created = append(g.created, req)
	g.mu.Unlock()
	if g.createErr != nil {
		return nil, g.createErr
	}
	return g.createResp, nil
}

func (g *fakeGateway) ConnectInstance(context.Context, string, string) (evolution.Payload, error) {
	g.note("connect_instance")
	return g.connectRes, nil
}

func (g *fakeGateway) ConnectionState(ctx context.Context, instance string) (evolution.Payload, error) {
	g.note("connection_state")
	n := g.inFlight.Add(1)
	defer g.inFlight.Add(-1)
	for {
		m := g.maxFlight.Load()
		if n <= m || g.maxFlight.CompareAndSwap(m, n) {
			break
		}
	}
	if g.stateDelay > 0 {
		select {
		case <-time.After(g.stateDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if g.stateErr != nil {
		return nil, g.stateErr
	}
	if err := g.stateErrs[instance]; err != nil {
		return nil, err
	}
	return g.states[instance], nil
}

func (g *fakeGateway) LogoutInstance(context.Context, string) (evolution.Payload, error) {
	g.note("logout_instance")
	return evolution.Payload{"status": "SUCCESS"}, nil
}

func (g *fakeGateway) DeleteInstance(_ context.Context, instance string) (evolution.Payload, error) {
	g.note("delete_instance")
	if g.deleteErr != nil {
		return nil, g.deleteErr
	}
	g.mu.Lock()
	g.deleted = append(g.deleted, instance)
	g.mu.Unlock()
	return evolution.Payload{"status": "SUCCESS"}, nil
}

func (g *fakeGateway) CreateBot(_ context.Context, instance, agentURL, apiKey string, opts evolution.BotOptions) (evolution.Payload, error) {
	return g.bot(botCall{op: "create_bot", instance: instance, agentURL: agentURL, apiKey: apiKey, opts: opts})
}

func (g *fakeGateway) UpdateBot(_ context.Context, botID, instance, agentURL, apiKey string, opts evolution.BotOptions) (evolution.Payload, error) {
	return g.bot(botCall{op: "update_bot", botID: botID, instance: instance, agentURL: agentURL, apiKey: apiKey, opts: opts})
}

func (g *fakeGateway) bot(c botCall) (evolution.Payload, error) {
	g.note(c.op)
	g.mu.Lock()
	g.botCalls = append(g.botCalls, c)
	g.mu.Unlock()
	if g.botErr != nil {
		return nil, g.botErr
	}
	return g.botResp, nil
}

func (g *fakeGateway) FindBots(context.Context, string) ([]evolution.Payload, error) {
	g.note("find_bots")
	return g.bots, g.findErr
}

func (g *fakeGateway) DeleteBot(_ context.Context, botID, instance string) (evolution.Payload, error) {
	g.note("delete_bot")
	g.mu.Lock()
	g.botCalls = append(g.botCalls, botCall{op: "delete_bot", botID: botID, instance: instance})
	g.mu.Unlock()
	if g.deleteBotErr != nil {
		return nil, g.deleteBotErr
	}
	return evolution.Payload{}, nil
}

func (g *fakeGateway) FetchSessions(context.Context, string, string) ([]evolution.Payload, error) {
	g.note("fetch_sessions")
	return []evolution.Payload{{"remoteJid": "5511999999999@s.whatsapp.net"}}, nil
}

func (g *fakeGateway) ChangeSessionStatus(context.Context, string, string, string) (evolution.Payload, error) {
	g.note("change_session_status")
	return evolution.Payload{}, nil
}

func (g *fakeGateway) IgnoreJID(context.Context, string, string, string) (evolution.Payload, error) {
	g.note("ignore_jid")
	return evolution.Payload{}, nil
}

type fakeLocker struct {
	ok       bool
	err      error
	keys     []string
	released int
}

func (l *fakeLocker) Acquire(_ context.Context, key string) (func(), bool, error) {
	l.keys = append(l.keys, key)
	if l.err != nil || !l.ok {
		return nil, false, l.err
	}
	return func() { l.released++ }, true, nil
}

var errBoom = errors.New("boom")

type fixture struct {
	gw     *fakeGateway
	store  *MemoryStore
	dir    *agents.MemoryDirectory
	cipher *agents.FernetCipher
	audits *audit.MemoryRepo
	linker *Linker
	svc    *Service
	lister *Lister
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cipher, err := agents.NewFernetCipher("test-encryption-secret")
	require.NoError(t, err)

	f := &fixture{
		gw:     &fakeGateway{},
		store:  NewMemoryStore(),
		dir:    agents.NewMemoryDirectory(),
		cipher: cipher,
		audits: audit.NewMemoryRepo(),
	}
	auditor := audit.NewService(f.audits)
	f.linker = NewLinker(LinkerConfig{
		Gateway:   f.gw,
		Store:     f.store,
		Agents:    f.dir,
		Keys:      cipher,
		Audit:     auditor,
		PublicURL: "https://platform.example.com/",
		Now:       func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) },
	})
	f.svc = NewService(f.gw, f.store, f.linker, auditor, nil)
	f.lister = NewLister(f.gw, f.store, auditor, nil)
	return f
}

func (f *fixture) seed(t *testing.T, c Channel) Channel {
	t.Helper()
	out, err := f.store.Create(context.Background(), c)
	require.NoError(t, err)
	return out
}

func (f *fixture) agent(t *testing.T, a agents.Agent, plainKey string) agents.Agent {
	t.Helper()
	if plainKey != "" {
		tok, err := f.cipher.Encrypt(plainKey)
		require.NoError(t, err)
		a.EncryptedAPIKey = tok
	}
	f.dir.Put(a)
	return a
}

func (f *fixture) row(t *testing.T, id string) Channel {
	t.Helper()
	for _, c := range f.store.Rows() {
		if c.ID == id {
			return c
		}
	}
	t.Fatalf("row %s not found", id)
	return Channel{}
}

func (f *fixture) auditTypes() []audit.EventType {
	var out []audit.EventType
	for _, e := range f.audits.Events() {
		out = append(out, e.Type)
	}
	return out
}
