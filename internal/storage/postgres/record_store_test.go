package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/rafaelrnzo/AI-Article-Summarizer/internal/crawl"
)

func TestSaveRecordInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, "records")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	record := crawl.Record{
		SourceURL:   "https://example.test/a",
		Strategy:    "title",
		Fields:      map[string]string{"title": "Hello"},
		Text:        "body text",
		ExtractedAt: now,
	}

	mock.ExpectExec("INSERT INTO records").
		WithArgs(
			record.SourceURL,
			record.Strategy,
			[]byte(`{"title":"Hello"}`),
			record.Text,
			record.ExtractedAt,
			record.Stale,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.SaveRecord(context.Background(), record))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRecordRequiresURL(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, "records")
	require.NoError(t, err)

	err = store.SaveRecord(context.Background(), crawl.Record{Strategy: "title"})
	require.Error(t, err)
}

func TestNewWithPoolRejectsBadTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewWithPool(mock, "records; drop table users")
	require.Error(t, err)
}
