package app

import (
	"context"
	"time"

	"xbot/internal/bot"
	"xbot/internal/social/x"
	"xbot/internal/storage"
)

// socialAdapter narrows the X client to bot.Social.
type socialAdapter struct{ c *x.Client }

func (a socialAdapter) Post(ctx context.Context, text string) (string, error) {
	return a.c.Post(ctx, text)
}

func (a socialAdapter) Reply(ctx context.Context, target, text string) (string, error) {
	return a.c.Reply(ctx, target, text)
}

func (a socialAdapter) Like(ctx context.Context, id string) error { return a.c.Like(ctx, id) }

func (a socialAdapter) Search(ctx context.Context, query string, limit int) ([]bot.Item, error) {
	tweets, err := a.c.Search(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	items := make([]bot.Item, 0, len(tweets))
	for _, t := range tweets {
		items = append(items, bot.Item{ID: t.ID, Text: t.Text})
	}
	return items, nil
}

func actionEntry(ev bot.ActionEvent) storage.ActionEntry {
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	return storage.ActionEntry{
		At:       at.UTC(),
		Job:      string(ev.Job),
		Kind:     ev.Kind,
		TargetID: ev.TargetID,
		ResultID: ev.ResultID,
		OK:       ev.OK,
		Error:    ev.Error,
	}
}
