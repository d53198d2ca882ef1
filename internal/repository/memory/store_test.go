package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/librarian/internal/model"
)

func TestStore_MutateBook_ErrorLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.Books().Create(ctx, &model.Book{ID: "b1", ISBN: "1", Title: "T", Author: "A", State: model.BookAvailable}))

	_, err := s.Lending().MutateBook(ctx, "b1", func(b *model.Book) (*model.CounterUpdate, error) {
		b.State = model.BookBorrowed
		return nil, model.NewNotHolderError()
	})
	require.Error(t, err)

	b, err := s.Books().FindByID(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, model.BookAvailable, b.State)
}

func TestStore_MutateBook_UnknownUserRejected(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.Books().Create(ctx, &model.Book{ID: "b1", ISBN: "1", State: model.BookAvailable}))

	_, err := s.Lending().MutateBook(ctx, "b1", func(b *model.Book) (*model.CounterUpdate, error) {
		holder := "ghost"
		b.State = model.BookBorrowed
		b.HolderID = &holder
		return &model.CounterUpdate{UserID: holder, OutstandingDelta: 1}, nil
	})
	assert.True(t, model.IsKind(err, model.KindNotFound))

	b, _ := s.Books().FindByID(ctx, "b1")
	assert.Equal(t, model.BookAvailable, b.State)
}

func TestStore_DeleteIfAvailable_CascadesReviewsAndHistory(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.Users().Create(ctx, &model.User{ID: "u1", Email: "u1@example.com", Role: model.RoleMember}))
	require.NoError(t, s.Books().Create(ctx, &model.Book{ID: "b1", ISBN: "1", State: model.BookAvailable}))
	_, err := s.Lending().MutateBook(ctx, "b1", func(b *model.Book) (*model.CounterUpdate, error) {
		return &model.CounterUpdate{UserID: "u1", ReturnedBookID: "b1", ReturnedAt: time.Now()}, nil
	})
	require.NoError(t, err)
	require.NoError(t, s.Reviews().Create(ctx, &model.Review{ID: "r1", BookID: "b1", UserID: "u1", Rating: 5}))

	ok, err := s.Books().DeleteIfAvailable(ctx, "b1")
	require.NoError(t, err)
	assert.True(t, ok)

	reviews, _ := s.Reviews().ListAll(ctx)
	assert.Empty(t, reviews)
	returned, _ := s.Lending().ListReturned(ctx, "u1")
	assert.Empty(t, returned)
}

func TestStore_DuplicateKeysConflict(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.Users().Create(ctx, &model.User{ID: "u1", Email: "a@example.com"}))
	assert.True(t, model.IsKind(s.Users().Create(ctx, &model.User{ID: "u2", Email: "a@example.com"}), model.KindConflict))

	require.NoError(t, s.Books().Create(ctx, &model.Book{ID: "b1", ISBN: "X"}))
	require.NoError(t, s.Books().Create(ctx, &model.Book{ID: "b2", ISBN: "Y"}))
	_, err := s.Books().UpdateDetails(ctx, &model.Book{ID: "b2", ISBN: "X"})
	assert.True(t, model.IsKind(err, model.KindConflict))
}

func TestStore_SessionExpiry(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return now })
	require.NoError(t, s.Users().Create(ctx, &model.User{ID: "u1", Email: "a@example.com", Role: model.RoleAdmin}))
	require.NoError(t, s.Sessions().Create(ctx, &model.Session{ID: "live", UserID: "u1", ExpiresAt: now.Add(time.Minute)}))
	require.NoError(t, s.Sessions().Create(ctx, &model.Session{ID: "old", UserID: "u1", ExpiresAt: now}))

	p, err := s.Sessions().FindPrincipal(ctx, "live")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, model.RoleAdmin, p.Role)

	p, err = s.Sessions().FindPrincipal(ctx, "old")
	require.NoError(t, err)
	assert.Nil(t, p)

	n, err := s.Sessions().DeleteExpired(ctx, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestStore_RepairOutstanding(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.Users().Create(ctx, &model.User{ID: "u1", Email: "u1@example.com", Role: model.RoleMember}))
	holder := "u1"
	require.NoError(t, s.Books().Create(ctx, &model.Book{ID: "b1", ISBN: "1", State: model.BookBorrowed, HolderID: &holder}))
	require.NoError(t, s.Books().Create(ctx, &model.Book{ID: "b2", ISBN: "2", State: model.BookReserved, HolderID: &holder}))
	require.NoError(t, s.Users().SetOutstandingCount(ctx, "u1", 3))

	stored, actual, err := s.Lending().RepairOutstanding(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, stored)
	assert.Equal(t, 1, actual)

	u, err := s.Users().FindByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, u.OutstandingCount)

	_, _, err = s.Lending().RepairOutstanding(ctx, "ghost")
	assert.True(t, model.IsKind(err, model.KindNotFound))
}
