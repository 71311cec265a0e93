package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zrx-ladder-bot/internal/models"
)

func TestSQLiteJournalRecordAndHistory(t *testing.T) {
	ctx := context.Background()
	j, err := NewSQLiteJournal(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	defer j.Close()

	at := time.UnixMilli(1700000000000)
	events := []Event{
		{InstanceKey: "a", PositionID: "p1", Status: models.StatusPending, Action: models.Sell, Price: 105, Amount: 5, Hash: "0x01", Time: at},
		{InstanceKey: "a", PositionID: "p2", Status: models.StatusPending, Action: models.Sell, Price: 110, Amount: 5, Time: at.Add(time.Second)},
		{InstanceKey: "b", PositionID: "p3", Status: models.StatusOpen, Action: models.Buy, Price: 90, Amount: 1, Time: at},
	}
	require.NoError(t, j.Record(ctx, events))
	require.NoError(t, j.Record(ctx, nil))

	history, err := j.History(ctx, "a")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, events[0], history[0])
	assert.Equal(t, "", history[1].Hash)

	none, err := j.History(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestEventFor(t *testing.T) {
	at := time.Unix(1700000000, 0)
	p := models.Position{
		ID:          "p1",
		InstanceKey: "k",
		Status:      models.StatusOpen,
		Amount:      2,
		Context:     models.PositionContext{Action: models.Buy},
		Open:        &models.OrderRecord{Price: 100, Hash: "0xopen"},
	}
	e := EventFor(p, at)
	assert.Equal(t, 100.0, e.Price)
	assert.Equal(t, "0xopen", e.Hash)

	p.PendingOrder = &models.PendingOrder{Price: 105, OrderHash: "0xclose"}
	e = EventFor(p, at)
	assert.Equal(t, 105.0, e.Price)
	assert.Equal(t, "0xclose", e.Hash)
	assert.Equal(t, models.Buy, e.Action)
	assert.Equal(t, at, e.Time)
}

func TestNopJournal(t *testing.T) {
	var j Journal = NopJournal{}
	assert.NoError(t, j.Record(context.Background(), []Event{{PositionID: "x"}}))
	assert.NoError(t, j.Close())
}
