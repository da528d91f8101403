package evolution

import (
	"context"
	"net/http"
)

// BotOptions are the optional EvoAI bot settings. Unset fields are not sent,
// so the gateway keeps its own defaults. Extra is merged into the wire body
// last and may carry options this type does not name yet.
type BotOptions struct {
	Enabled         *bool    `json:"enabled,omitempty"`
	Description     string   `json:"description,omitempty"`
	TriggerType     string   `json:"triggerType,omitempty"`
	TriggerOperator string   `json:"triggerOperator,omitempty"`
	TriggerValue    string   `json:"triggerValue,omitempty"`
	Expire          *int     `json:"expire,omitempty"`
	KeywordFinish   string   `json:"keywordFinish,omitempty"`
	DelayMessage    *int     `json:"delayMessage,omitempty"`
	UnknownMessage  string   `json:"unknownMessage,omitempty"`
	ListeningFromMe *bool    `json:"listeningFromMe,omitempty"`
	StopBotFromMe   *bool    `json:"stopBotFromMe,omitempty"`
	KeepOpen        *bool    `json:"keepOpen,omitempty"`
	DebounceTime    *int     `json:"debounceTime,omitempty"`
	IgnoreJids      []string `json:"ignoreJids,omitempty"`
	SplitMessages   *bool    `json:"splitMessages,omitempty"`
	TimePerChar     *int     `json:"timePerChar,omitempty"`

	Extra map[string]any `json:"extra,omitempty"`
}

const defaultTriggerType = "all"

// botBody renders the create/update body: defaults, then named options,
// then Extra.
func botBody(agentURL, apiKey string, o BotOptions) map[string]any {
	b := map[string]any{
		"enabled":     true,
		"agentUrl":    agentURL,
		"apiKey":      apiKey,
		"triggerType": defaultTriggerType,
	}
	setBool := func(k string, v *bool) {
		if v != nil {
			b[k] = *v
		}
	}
	setInt := func(k string, v *int) {
		if v != nil {
			b[k] = *v
		}
	}
	setStr := func(k, v string) {
		if v != "" {
			b[k] = v
		}
	}

	setBool("enabled", o.Enabled)
	setStr("description", o.Description)
	setStr("triggerType", o.TriggerType)
	setStr("triggerOperator", o.TriggerOperator)
	setStr("triggerValue", o.TriggerValue)
	setInt("expire", o.Expire)
	setStr("keywordFinish", o.KeywordFinish)
	setInt("delayMessage", o.DelayMessage)
	setStr("unknownMessage", o.UnknownMessage)
	setBool("listeningFromMe", o.ListeningFromMe)
	setBool("stopBotFromMe", o.StopBotFromMe)
	setBool("keepOpen", o.KeepOpen)
	setInt("debounceTime", o.DebounceTime)
	if o.IgnoreJids != nil {
		b["ignoreJids"] = o.IgnoreJids
	}
	setBool("splitMessages", o.SplitMessages)
	setInt("timePerChar", o.TimePerChar)

	for k, v := range o.Extra {
		b[k] = v
	}
	return b
}

// CreateBot registers an EvoAI bot on instance pointing at agentURL.
func (c *Client) CreateBot(ctx context.Context, instance, agentURL, apiKey string, opts BotOptions) (Payload, error) {
	return c.callObject(ctx, "create_bot", http.MethodPost, "/evoai/create/"+seg(instance), nil, botBody(agentURL, apiKey, opts))
}

// FindBots lists the EvoAI bots configured on instance.
func (c *Client) FindBots(ctx context.Context, instance string) ([]Payload, error) {
	v, err := c.call(ctx, "find_bots", http.MethodGet, "/evoai/find/"+seg(instance), nil, nil)
	if err != nil {
		return nil, err
	}
	bots := decodeList(v)
	if len(bots) == 0 {
		// Some gateway versions answer a single bot as an object.
		if m, ok := v.(map[string]any); ok {
			if _, hasID := m["id"]; hasID {
				bots = []Payload{m}
			}
		}
	}
	return bots, nil
}

func (c *Client) FetchBot(ctx context.Context, botID, instance string) (Payload, error) {
	return c.callObject(ctx, "fetch_bot", http.MethodGet, "/evoai/fetch/"+seg(botID)+"/"+seg(instance), nil, nil)
}

// UpdateBot rewrites an existing bot with the same body shape as CreateBot.
func (c *Client) UpdateBot(ctx context.Context, botID, instance, agentURL, apiKey string, opts BotOptions) (Payload, error) {
	return c.callObject(ctx, "update_bot", http.MethodPut, "/evoai/update/"+seg(botID)+"/"+seg(instance), nil, botBody(agentURL, apiKey, opts))
}

func (c *Client) DeleteBot(ctx context.Context, botID, instance string) (Payload, error) {
	return c.callObject(ctx, "delete_bot", http.MethodDelete, "/evoai/delete/"+seg(botID)+"/"+seg(instance), nil, nil)
}

// SetBotSettings writes the instance-wide EvoAI defaults.
func (c *Client) SetBotSettings(ctx context.Context, instance string, settings Payload) (Payload, error) {
	return c.callObject(ctx, "bot_settings", http.MethodPost, "/evoai/settings/"+seg(instance), nil, settings)
}

func (c *Client) FetchBotSettings(ctx context.Context, instance string) (Payload, error) {
	return c.callObject(ctx, "fetch_bot_settings", http.MethodGet, "/evoai/fetchSettings/"+seg(instance), nil, nil)
}

// Session statuses accepted by ChangeSessionStatus.
const (
	SessionOpened = "opened"
	SessionPaused = "paused"
	SessionClosed = "closed"
)

func (c *Client) ChangeSessionStatus(ctx context.Context, instance, remoteJID, status string) (Payload, error) {
	body := map[string]any{"remoteJid": remoteJID, "status": status}
	return c.callObject(ctx, "change_session_status", http.MethodPost, "/evoai/changeStatus/"+seg(instance), nil, body)
}

func (c *Client) FetchSessions(ctx context.Context, botID, instance string) ([]Payload, error) {
	v, err := c.call(ctx, "fetch_sessions", http.MethodGet, "/evoai/fetchSessions/"+seg(botID)+"/"+seg(instance), nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeList(v), nil
}

// IgnoreJID actions.
const (
	IgnoreAdd    = "add"
	IgnoreRemove = "remove"
)

func (c *Client) IgnoreJID(ctx context.Context, instance, remoteJID, action string) (Payload, error) {
	body := map[string]any{"remoteJid": remoteJID, "action": action}
	return c.callObject(ctx, "ignore_jid", http.MethodPost, "/evoai/ignoreJid/"+seg(instance), nil, body)
}
