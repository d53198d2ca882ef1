// Package lending は書籍の貸出・予約・返却の状態遷移と、利用者カウンタの整合性を扱う。
package lending

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/librarian/internal/metrics"
	"github.com/hitoshi/librarian/internal/model"
	"github.com/hitoshi/librarian/internal/repository"
)

// 遷移名。メトリクスのラベルとログに使う。
const (
	ActionBorrow   = "borrow"
	ActionReserve  = "reserve"
	ActionReturn   = "return"
	ActionCancel   = "cancel_reservation"
	ActionCheckout = "checkout_reservation"
)

// Reconciliation は貸出中冊数の照合結果。
type Reconciliation struct {
	UserID   string
	Stored   int // 照合前に保存されていた値
	Actual   int // 書籍の状態から再計算した値
	Repaired bool
}

// Drift は保存値と再計算値の差を返す。
func (r *Reconciliation) Drift() int {
	return r.Stored - r.Actual
}

// Service は貸出ライフサイクルのサービス層。
// 各遷移はLendingRepository.MutateBookの1回の呼び出しで完結し、失敗時に再試行しない。
type Service struct {
	bookRepo    repository.BookRepository
	lendingRepo repository.LendingRepository
	metrics     metrics.MetricsCollector
	now         func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	bookRepo repository.BookRepository,
	lendingRepo repository.LendingRepository,
	collector metrics.MetricsCollector,
) *Service {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Service{
		bookRepo:    bookRepo,
		lendingRepo: lendingRepo,
		metrics:     collector,
		now:         time.Now,
	}
}

// Borrow は貸出可能な書籍を呼び出し元に貸し出す。
func (s *Service) Borrow(ctx context.Context, bookID, callerID string) (*model.Book, error) {
	return s.transition(ctx, ActionBorrow, bookID, callerID, borrowMutation(callerID, s.now()))
}

// Reserve は貸出可能な書籍を呼び出し元のために予約する。カウンタは変化しない。
func (s *Service) Reserve(ctx context.Context, bookID, callerID string) (*model.Book, error) {
	return s.transition(ctx, ActionReserve, bookID, callerID, reserveMutation(callerID))
}

// Return は呼び出し元が借りている書籍を返却する。
// 貸出中でない書籍、他人が借りている書籍、予約中の書籍はすべてForbiddenになる。
func (s *Service) Return(ctx context.Context, bookID, callerID string) (*model.Book, error) {
	return s.transition(ctx, ActionReturn, bookID, callerID, returnMutation(callerID, s.now()))
}

// CancelReservation は呼び出し元の予約を取り消し、書籍を貸出可能に戻す。
func (s *Service) CancelReservation(ctx context.Context, bookID, callerID string) (*model.Book, error) {
	return s.transition(ctx, ActionCancel, bookID, callerID, cancelMutation(callerID))
}

// CheckoutReservation は呼び出し元が予約している書籍をそのまま貸出に切り替える。
func (s *Service) CheckoutReservation(ctx context.Context, bookID, callerID string) (*model.Book, error) {
	return s.transition(ctx, ActionCheckout, bookID, callerID, checkoutMutation(callerID, s.now()))
}

func (s *Service) transition(
	ctx context.Context,
	action, bookID, callerID string,
	fn repository.BookMutation,
) (*model.Book, error) {
	if !model.IsValidID(bookID) {
		s.metrics.RecordTransition(action, metrics.OutcomeRejected)
		return nil, model.NewBookNotFoundError(bookID)
	}

	book, err := s.lendingRepo.MutateBook(ctx, bookID, fn)
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			s.metrics.RecordTransition(action, metrics.OutcomeRejected)
			slog.Info("lending transition rejected",
				slog.String("action", action),
				slog.String("book_id", bookID),
				slog.String("user_id", callerID),
				slog.String("code", apiErr.Code),
			)
			return nil, err
		}
		s.metrics.RecordTransition(action, metrics.OutcomeError)
		return nil, fmt.Errorf("failed to %s book: %w", action, err)
	}
	if book == nil {
		s.metrics.RecordTransition(action, metrics.OutcomeRejected)
		return nil, model.NewBookNotFoundError(bookID)
	}

	s.metrics.RecordTransition(action, metrics.OutcomeSuccess)
	slog.Info("lending transition applied",
		slog.String("action", action),
		slog.String("book_id", bookID),
		slog.String("user_id", callerID),
		slog.String("state", string(book.State)),
	)
	return book, nil
}

// ListBooks は状態と検索語で絞り込んだ書籍一覧を返す（管理者向け）。
func (s *Service) ListBooks(ctx context.Context, filter model.BookFilter) ([]*model.BookListing, error) {
	books, err := s.bookRepo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list books: %w", err)
	}
	return books, nil
}

// BrowseAvailable は会員向けの一覧を返す。状態は常にavailableに固定される。
func (s *Service) BrowseAvailable(ctx context.Context, query string) ([]*model.BookListing, error) {
	return s.ListBooks(ctx, model.BookFilter{State: model.BookAvailable, Query: query})
}

// ListHeld は利用者が保持者（貸出中・予約中）になっている書籍を返す。
func (s *Service) ListHeld(ctx context.Context, userID string) ([]*model.Book, error) {
	books, err := s.bookRepo.ListByHolder(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list held books: %w", err)
	}
	return books, nil
}

// ListReturned は利用者の返却履歴を返す。同じ書籍が複数回含まれることがある。
func (s *Service) ListReturned(ctx context.Context, userID string) ([]model.ReturnedBook, error) {
	returned, err := s.lendingRepo.ListReturned(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list returned books: %w", err)
	}
	return returned, nil
}

// RecountOutstanding は書籍の状態から利用者の貸出中冊数を再計算する。
func (s *Service) RecountOutstanding(ctx context.Context, userID string) (int, error) {
	n, err := s.lendingRepo.CountBorrowedByHolder(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to recount outstanding books: %w", err)
	}
	return n, nil
}

// Reconcile は保存されている貸出中冊数を再計算値と照合し、ずれていれば上書きする。
// 照合と上書きはリポジトリ内で1つのロック区間として行われ、並行する遷移の差分を失わない。
func (s *Service) Reconcile(ctx context.Context, userID string) (*Reconciliation, error) {
	if !model.IsValidID(userID) {
		return nil, model.NewUserNotFoundError()
	}

	stored, actual, err := s.lendingRepo.RepairOutstanding(ctx, userID)
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to reconcile outstanding count: %w", err)
	}

	result := &Reconciliation{UserID: userID, Stored: stored, Actual: actual, Repaired: stored != actual}
	if result.Repaired {
		slog.Warn("outstanding count drift repaired",
			slog.String("user_id", userID),
			slog.Int("stored", result.Stored),
			slog.Int("actual", result.Actual),
		)
	}
	return result, nil
}
