package reminder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"evolve/internal/domain"
	"evolve/internal/metrics"
)

// ErrNoProvider is logged when reminders are composed without a generator.
var ErrNoProvider = errors.New("no generation provider configured")

// DefaultPersona sets the tone of generated reminders.
const DefaultPersona = "You are a brisk, warm productivity coach who keeps people on schedule."

const formattingRules = `Write one short reminder for each item listed below.
Output must be a JSON array, in the same order as the items, where each element is {"item_id": <id>, "message": "<text>"}.
Every message must say that the task is due in <int> minutes, using the item's minutes_until value.
Never include the item id or any other identifier in the message text.
Return only the JSON array.`

type ComposerConfig struct {
	Provider    domain.Provider // nil disables generation, every item falls back
	Persona     string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration // per generation call, default 60s
	Logger      *slog.Logger
}

// Composer turns a due-soon set into reminder texts with at most one
// generation call per Compose.
type Composer struct {
	cfg    ComposerConfig
	logger *slog.Logger
}

func NewComposer(cfg ComposerConfig) *Composer {
	if cfg.Persona == "" {
		cfg.Persona = DefaultPersona
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2048
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Composer{cfg: cfg, logger: cfg.Logger}
}

// Compose returns exactly one message per due-soon item, in due-soon order.
// today is the full day's item list, used only as context for tone.
// Generation failures of any kind degrade to fallback texts.
func (c *Composer) Compose(ctx context.Context, now time.Time, dueSoon, today []domain.ScheduledItem) []domain.ComposedMessage {
	if len(dueSoon) == 0 {
		return nil
	}

	batch, err := c.generate(ctx, now, dueSoon, today)
	switch {
	case errors.Is(err, ErrNoProvider):
		c.logger.Debug("no provider, using fallback", "items", len(dueSoon))
	case err != nil:
		c.logger.Warn("reminder generation failed, using fallback", "items", len(dueSoon), "err", err)
	}

	out := make([]domain.ComposedMessage, 0, len(dueSoon))
	var generated, fallback int
	for _, it := range dueSoon {
		msg := domain.ComposedMessage{ItemID: it.ID, RecipientID: it.RecipientID}
		if text, ok := batch[it.ID]; ok {
			msg.Text = text
			msg.Source = domain.SourceGenerated
			generated++
		} else {
			msg.Text = FallbackText(it, now.Location())
			msg.Source = domain.SourceFallback
			fallback++
		}
		out = append(out, msg)
	}

	metrics.ReminderGenerated.Add(int64(generated))
	metrics.ReminderFallback.Add(int64(fallback))
	if err == nil && fallback > 0 {
		c.logger.Info("generator left items uncovered", "covered", generated, "fallback", fallback)
	}
	return out
}

func (c *Composer) generate(ctx context.Context, now time.Time, dueSoon, today []domain.ScheduledItem) (ParsedBatch, error) {
	if c.cfg.Provider == nil {
		return nil, ErrNoProvider
	}

	req, err := c.buildRequest(now, dueSoon, today)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.cfg.Provider.Chat(ctx, req)
	metrics.GenerationLatency.ObserveSince(start)
	if err != nil {
		return nil, fmt.Errorf("%s chat: %w", c.cfg.Provider.Name(), err)
	}

	known := make(map[int64]bool, len(dueSoon))
	for _, it := range dueSoon {
		known[it.ID] = true
	}
	batch, err := parseBatch(resp.Content, known)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("reminders generated",
		"provider", c.cfg.Provider.Name(),
		"items", len(dueSoon),
		"covered", len(batch),
		"tokens", resp.Usage.TotalTokens,
	)
	return batch, nil
}

type contextEntry struct {
	ItemID        int64  `json:"item_id"`
	Description   string `json:"description"`
	Priority      string `json:"priority"`
	Status        string `json:"status"`
	ScheduledTime string `json:"scheduled_time,omitempty"`
}

type promptItem struct {
	ItemID       int64  `json:"item_id"`
	Description  string `json:"description"`
	Priority     string `json:"priority"`
	CurrentTime  string `json:"current_time"`
	ScheduledFor string `json:"scheduled_for"`
	MinutesUntil int    `json:"minutes_until"`
}

func (c *Composer) buildRequest(now time.Time, dueSoon, today []domain.ScheduledItem) (domain.ChatRequest, error) {
	grouped := make(map[string][]contextEntry)
	for _, it := range today {
		e := contextEntry{
			ItemID:      it.ID,
			Description: it.Description,
			Priority:    string(priorityOf(it)),
			Status:      string(it.Status),
		}
		if it.ScheduledTime != nil {
			e.ScheduledTime = it.ScheduledTime.String()
		}
		grouped[it.RecipientID] = append(grouped[it.RecipientID], e)
	}
	for _, entries := range grouped {
		sort.SliceStable(entries, func(i, j int) bool { return entries[i].ScheduledTime < entries[j].ScheduledTime })
	}

	items := make([]promptItem, 0, len(dueSoon))
	for _, it := range dueSoon {
		due, _ := it.DueAt(now.Location())
		items = append(items, promptItem{
			ItemID:       it.ID,
			Description:  it.Description,
			Priority:     string(priorityOf(it)),
			CurrentTime:  now.Format("15:04"),
			ScheduledFor: due.Format("2006-01-02 15:04"),
			MinutesUntil: minutesUntil(now, it),
		})
	}

	ctxJSON, err := json.Marshal(grouped)
	if err != nil {
		return domain.ChatRequest{}, fmt.Errorf("marshal context: %w", err)
	}
	itemsJSON, err := json.Marshal(items)
	if err != nil {
		return domain.ChatRequest{}, fmt.Errorf("marshal items: %w", err)
	}

	var user strings.Builder
	user.WriteString("Today's tasks grouped by user_id (use only for relevance and tone, do not list it back):\n")
	user.Write(ctxJSON)
	user.WriteString("\n\nItems to generate reminders for (preserve this order):\n")
	user.Write(itemsJSON)

	return domain.ChatRequest{
		Messages: []domain.Message{
			{Role: "system", Content: c.cfg.Persona + "\n\n" + formattingRules},
			{Role: "user", Content: user.String()},
		},
		Model:       c.cfg.Model,
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
	}, nil
}

// FallbackText is the deterministic reminder used when no generated text is
// available for an item.
func FallbackText(it domain.ScheduledItem, loc *time.Location) string {
	when := " soon"
	if due, ok := it.DueAt(loc); ok {
		when = " at " + due.Format("15:04")
	} else if it.ScheduledTime != nil {
		when = " at " + it.ScheduledTime.String()
	}
	return fmt.Sprintf("Your task '%s' is due%s. Stay on track. (Priority: %s)", it.Description, when, priorityOf(it))
}

func priorityOf(it domain.ScheduledItem) domain.Priority {
	if it.Priority == "" {
		return domain.PriorityMedium
	}
	return it.Priority
}
