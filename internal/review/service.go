// Package review は書籍レビューの投稿・参照・削除を提供する。
package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/librarian/internal/metrics"
	"github.com/hitoshi/librarian/internal/model"
	"github.com/hitoshi/librarian/internal/repository"
	"github.com/hitoshi/librarian/internal/security"
)

const maxCommentLength = 2000

// AddInput はレビュー投稿の入力。
type AddInput struct {
	BookID  string
	Rating  int
	Comment string
}

// Config はレビューサービスの設定。
type Config struct {
	// RequireReturned が true の場合、返却履歴にある書籍にのみレビューできる。
	RequireReturned bool
}

// Service はレビューのサービス層。
type Service struct {
	reviewRepo  repository.ReviewRepository
	bookRepo    repository.BookRepository
	lendingRepo repository.LendingRepository
	sanitizer   security.TextSanitizer
	metrics     metrics.MetricsCollector
	config      Config
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	reviewRepo repository.ReviewRepository,
	bookRepo repository.BookRepository,
	lendingRepo repository.LendingRepository,
	sanitizer security.TextSanitizer,
	collector metrics.MetricsCollector,
	config Config,
) *Service {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Service{
		reviewRepo:  reviewRepo,
		bookRepo:    bookRepo,
		lendingRepo: lendingRepo,
		sanitizer:   sanitizer,
		metrics:     collector,
		config:      config,
	}
}

// AddReview は呼び出し元のレビューを作成する。
// 入力は境界で検証済みであっても、ここで必ず再検証する。
func (s *Service) AddReview(ctx context.Context, callerID string, input AddInput) (*model.Review, error) {
	review, err := s.addReview(ctx, callerID, input)
	switch {
	case err == nil:
		s.metrics.RecordReview(metrics.OutcomeSuccess)
	case isAPIError(err):
		s.metrics.RecordReview(metrics.OutcomeRejected)
	default:
		s.metrics.RecordReview(metrics.OutcomeError)
	}
	return review, err
}

func (s *Service) addReview(ctx context.Context, callerID string, input AddInput) (*model.Review, error) {
	if input.Rating < model.MinRating || input.Rating > model.MaxRating {
		return nil, model.NewInvalidRatingError(input.Rating)
	}
	comment := s.sanitizer.Clean(input.Comment)
	if comment == "" {
		return nil, model.NewValidationError("comment", "コメントを入力してください")
	}
	if len([]rune(comment)) > maxCommentLength {
		return nil, model.NewValidationError("comment", fmt.Sprintf("%d文字以内で入力してください", maxCommentLength))
	}

	if !model.IsValidID(input.BookID) {
		return nil, model.NewBookNotFoundError(input.BookID)
	}
	book, err := s.bookRepo.FindByID(ctx, input.BookID)
	if err != nil {
		return nil, fmt.Errorf("書籍の取得に失敗しました: %w", err)
	}
	if book == nil {
		return nil, model.NewBookNotFoundError(input.BookID)
	}

	if s.config.RequireReturned {
		returned, err := s.lendingRepo.HasReturned(ctx, callerID, book.ID)
		if err != nil {
			return nil, fmt.Errorf("返却履歴の確認に失敗しました: %w", err)
		}
		if !returned {
			return nil, model.NewReviewNotAllowedError()
		}
	}

	review := &model.Review{
		ID:        uuid.New().String(),
		BookID:    book.ID,
		UserID:    callerID,
		Rating:    input.Rating,
		Comment:   comment,
		CreatedAt: time.Now(),
	}
	if err := s.reviewRepo.Create(ctx, review); err != nil {
		return nil, fmt.Errorf("レビューの保存に失敗しました: %w", err)
	}

	slog.Info("review added",
		slog.String("review_id", review.ID),
		slog.String("book_id", book.ID),
		slog.String("user_id", callerID),
		slog.Int("rating", review.Rating),
	)
	return review, nil
}

// DeleteReview はレビューを削除する。管理者のみ実行できる。
func (s *Service) DeleteReview(ctx context.Context, callerRole model.Role, reviewID string) error {
	if callerRole != model.RoleAdmin {
		return model.NewAdminOnlyError()
	}
	if !model.IsValidID(reviewID) {
		return model.NewReviewNotFoundError(reviewID)
	}

	deleted, err := s.reviewRepo.Delete(ctx, reviewID)
	if err != nil {
		return fmt.Errorf("レビューの削除に失敗しました: %w", err)
	}
	if !deleted {
		return model.NewReviewNotFoundError(reviewID)
	}

	slog.Info("review deleted", slog.String("review_id", reviewID))
	return nil
}

// ListByBook は書籍のレビューを投稿者情報付きで返す。
func (s *Service) ListByBook(ctx context.Context, bookID string) ([]model.ReviewWithAuthor, error) {
	if !model.IsValidID(bookID) {
		return nil, model.NewBookNotFoundError(bookID)
	}
	book, err := s.bookRepo.FindByID(ctx, bookID)
	if err != nil {
		return nil, fmt.Errorf("書籍の取得に失敗しました: %w", err)
	}
	if book == nil {
		return nil, model.NewBookNotFoundError(bookID)
	}

	reviews, err := s.reviewRepo.ListByBook(ctx, bookID)
	if err != nil {
		return nil, fmt.Errorf("レビューの取得に失敗しました: %w", err)
	}
	return reviews, nil
}

// ListAll は全レビューを投稿者・書籍情報付きで返す。管理者のみ実行できる。
func (s *Service) ListAll(ctx context.Context, callerRole model.Role) ([]model.ReviewDetail, error) {
	if callerRole != model.RoleAdmin {
		return nil, model.NewAdminOnlyError()
	}
	reviews, err := s.reviewRepo.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("レビューの取得に失敗しました: %w", err)
	}
	return reviews, nil
}

func isAPIError(err error) bool {
	var apiErr *model.APIError
	return errors.As(err, &apiErr)
}
