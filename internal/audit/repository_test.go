package audit

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPGRepositoryTimelineBindsFilters(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	from := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	at := time.Date(2025, 3, 2, 9, 0, 0, 0, time.UTC)
	rows := mock.NewRows([]string{"id", "occurred_at", "actor_id", "action", "entity", "entity_id", "meta"}).
		AddRow(int64(4), at, "root", "rbac.role.assign", "user", "u1", []byte(`{"role_id":"r-editor"}`)).
		AddRow(int64(3), at, "root", "rbac.role.revoke", "user", "u1", []byte(nil))
	mock.ExpectQuery(regexp.QuoteMeta(`LIMIT NULLIF($7::int, 0) OFFSET $8`)).
		WithArgs(&from, (*time.Time)(nil), "root", "", "user", "u1", 21, 20).
		WillReturnRows(rows)

	got, err := NewRepository(mock).Timeline(context.Background(), Query{
		From: &from, Actor: "root", Entity: "user", EntityID: "u1", Limit: 21, Offset: 20,
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "r-editor", got[0].Meta["role_id"])
	assert.Nil(t, got[1].Meta)
	assert.NoError(t, mock.ExpectationsWereMet())
}
