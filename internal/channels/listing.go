package channels

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"channel-platform/internal/audit"
	"channel-platform/internal/connstate"
	"channel-platform/internal/evolution"
	"channel-platform/pkg/utils"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100

	enrichConcurrency  = 5
	listingDescription = "WhatsApp instance (Evolution-API)"
	whatsappJIDSuffix  = "@s.whatsapp.net"
)

// ListItem is one channel as shown in the channel list.
type ListItem struct {
	ID                string            `json:"id"`
	Name              string            `json:"name"`
	Type              ChannelType       `json:"type"`
	Description       string            `json:"description"`
	Status            string            `json:"status"`
	PhoneNumber       string            `json:"phoneNumber"`
	MessagesToday     int               `json:"messagesToday"`
	AvatarURL         string            `json:"avatarUrl,omitempty"`
	IntegrationStatus IntegrationStatus `json:"integrationStatus,omitempty"`
	AgentID           string            `json:"agentId,omitempty"`
}

// Filters are matched case-insensitively. Search looks at name, phone and
// description.
type Filters struct {
	Status string
	Type   string
	Search string
}

// Page is 1-based. Limit is clamped to [1, MaxPageLimit].
type Page struct {
	Page  int
	Limit int
}

type ListResult struct {
	Data    []ListItem `json:"data"`
	Total   int        `json:"total"`
	Page    int        `json:"page"`
	Limit   int        `json:"limit"`
	HasMore bool       `json:"hasMore"`
}

// Lister builds the channel list from the gateway's instance list, scoped to
// the caller's client and enriched with live connection state.
type Lister struct {
	gw     Gateway
	store  Store
	audit  Auditor
	logger *slog.Logger
}

func NewLister(gw Gateway, store Store, auditor Auditor, logger *slog.Logger) *Lister {
	if logger == nil {
		logger = slog.Default()
	}
	return &Lister{gw: gw, store: store, audit: auditor, logger: logger}
}

func (l *Lister) List(ctx context.Context, caller Caller, f Filters, p Page) (ListResult, error) {
	if !caller.Admin && caller.ClientID == "" {
		return ListResult{}, fmt.Errorf("%w: no client associated with this user", ErrForbidden)
	}

	var (
		rows []Channel
		err  error
	)
	if caller.Admin {
		rows, err = l.store.ListAll(ctx)
	} else {
		rows, err = l.store.ListForClient(ctx, caller.ClientID)
	}
	if err != nil {
		return ListResult{}, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	owned := make(map[string]Channel, len(rows))
	for _, ch := range rows {
		owned[ch.InstanceName] = ch
	}

	instances, err := l.gw.ListInstances(ctx)
	if err != nil {
		return ListResult{}, err
	}

	items := make([]ListItem, 0, len(instances))
	for _, it := range instances {
		item, ok := baseItem(it)
		if !ok {
			continue
		}
		ch, known := owned[item.ID]
		if !caller.Admin && !known {
			continue
		}
		if known {
			item.IntegrationStatus = ch.IntegrationStatus
			item.AgentID = ch.ExternalAgentID
		}
		items = append(items, item)
	}

	l.enrich(ctx, items)
	res := paginate(applyFilters(items, f), p)

	if l.audit != nil {
		utils.BestEffort(ctx, l.logger, "audit", func(ctx context.Context) error {
			return l.audit.LogChannelAction(ctx, caller.ClientID, caller.UserID, caller.Role, audit.EventChannelList, "", map[string]any{
				"count": len(res.Data),
				"total": res.Total,
				"page":  res.Page,
				"limit": res.Limit,
			})
		})
	}
	return res, nil
}

// enrich merges live connection state into every item, at most
// enrichConcurrency calls at a time. A failed call leaves its item as is.
func (l *Lister) enrich(ctx context.Context, items []ListItem) {
	var g errgroup.Group
	g.SetLimit(enrichConcurrency)
	for i := range items {
		g.Go(func() error {
			state, err := l.gw.ConnectionState(ctx, items[i].ID)
			if err != nil {
				l.logger.DebugContext(ctx, "enrichment skipped", "instance", items[i].ID, "err", err)
				return nil
			}
			items[i].Status = connstate.NormalizeConnectionStatus(state, items[i].Status)
			body, _ := connstate.Unwrap(state)
			if avatar := connstate.ExtractAvatar(body); avatar != "" {
				items[i].AvatarURL = avatar
			}
			return nil
		})
	}
	_ = g.Wait()
}

// baseItem maps one fetchInstances entry. Entries nested as
// {instance: {...}} are flattened; entries without a name are dropped.
func baseItem(it evolution.Payload) (ListItem, bool) {
	if inner, ok := it["instance"].(map[string]any); ok {
		it = inner
	}
	name := firstText(it, "instanceName", "instance", "name", "id")
	if name == "" {
		return ListItem{}, false
	}
	phone := firstText(it, "phone", "phoneNumber", "number", "ownerJid")
	return ListItem{
		ID:            name,
		Name:          name,
		Type:          TypeWhatsApp,
		Description:   listingDescription,
		Status:        connstate.ListingStatus(it),
		PhoneNumber:   strings.TrimSuffix(phone, whatsappJIDSuffix),
		MessagesToday: intOf(it["messagesToday"]),
		AvatarURL:     connstate.ExtractAvatar(it),
	}, true
}

func applyFilters(items []ListItem, f Filters) []ListItem {
	status := strings.ToLower(strings.TrimSpace(f.Status))
	typ := strings.ToLower(strings.TrimSpace(f.Type))
	search := strings.ToLower(strings.TrimSpace(f.Search))

	out := make([]ListItem, 0, len(items))
	for _, it := range items {
		if status != "" && strings.ToLower(it.Status) != status {
			continue
		}
		if typ != "" && strings.ToLower(string(it.Type)) != typ {
			continue
		}
		if search != "" {
			blob := strings.ToLower(it.Name + " " + it.PhoneNumber + " " + it.Description)
			if !strings.Contains(blob, search) {
				continue
			}
		}
		out = append(out, it)
	}
	return out
}

func paginate(items []ListItem, p Page) ListResult {
	page := max(1, p.Page)
	limit := min(MaxPageLimit, max(1, p.Limit))
	total := len(items)

	// Compare in pages first so huge page numbers cannot overflow the offset.
	if page-1 >= (total+limit-1)/limit {
		return ListResult{Data: []ListItem{}, Total: total, Page: page, Limit: limit}
	}
	start := (page - 1) * limit
	end := min(start+limit, total)
	return ListResult{
		Data:    items[start:end],
		Total:   total,
		Page:    page,
		Limit:   limit,
		HasMore: end < total,
	}
}

func firstText(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := text(m[k]); s != "" {
			return s
		}
	}
	return ""
}

func intOf(v any) int {
	switch t := v.(type) {
	case float64:
		return int(t)
	case int:
		return t
	case int64:
		return int(t)
	default:
		return 0
	}
}
