// Package user は会員情報の参照を提供する。
package user

import (
	"context"
	"fmt"

	"github.com/hitoshi/librarian/internal/model"
	"github.com/hitoshi/librarian/internal/repository"
)

// Service はユーザー管理のサービス層。
type Service struct {
	userRepo repository.UserRepository
	bookRepo repository.BookRepository
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(userRepo repository.UserRepository, bookRepo repository.BookRepository) *Service {
	return &Service{
		userRepo: userRepo,
		bookRepo: bookRepo,
	}
}

// ListMembers は全会員をカウンタと現在借りている書籍付きで返す。
// 予約中の書籍はCurrentBookに含めない。
func (s *Service) ListMembers(ctx context.Context) ([]model.MemberSummary, error) {
	members, err := s.userRepo.ListByRole(ctx, model.RoleMember)
	if err != nil {
		return nil, fmt.Errorf("会員一覧の取得に失敗しました: %w", err)
	}

	summaries := make([]model.MemberSummary, 0, len(members))
	for _, m := range members {
		held, err := s.bookRepo.ListByHolder(ctx, m.ID)
		if err != nil {
			return nil, fmt.Errorf("貸出中書籍の取得に失敗しました: %w", err)
		}
		summary := model.MemberSummary{User: *m}
		for _, b := range held {
			if b.State == model.BookBorrowed {
				summary.CurrentBook = b
				break
			}
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// Profile は指定ユーザーを返す。
func (s *Service) Profile(ctx context.Context, userID string) (*model.User, error) {
	if !model.IsValidID(userID) {
		return nil, model.NewUserNotFoundError()
	}
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}
