// Package catalog は管理者による蔵書の登録・更新・削除と集計を提供する。
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/librarian/internal/model"
	"github.com/hitoshi/librarian/internal/repository"
	"github.com/hitoshi/librarian/internal/security"
)

// 各項目の最大文字数。テーブル定義に合わせる。
const (
	maxISBNLength   = 32
	maxTitleLength  = 500
	maxAuthorLength = 300
	maxGenreLength  = 100
)

// BookInput は書籍登録の入力。
type BookInput struct {
	ISBN       string
	Title      string
	Author     string
	CoverImage *string
	Genre      *string
}

// BookPatch は書籍の部分更新。nilのフィールドは変更しない。
// CoverImage と Genre は空文字列を指定すると削除される。
type BookPatch struct {
	ISBN       *string
	Title      *string
	Author     *string
	CoverImage *string
	Genre      *string
}

// Service は蔵書管理のサービス層。
type Service struct {
	bookRepo  repository.BookRepository
	userRepo  repository.UserRepository
	sanitizer security.TextSanitizer
	covers    security.CoverImageVerifier
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	bookRepo repository.BookRepository,
	userRepo repository.UserRepository,
	sanitizer security.TextSanitizer,
	covers security.CoverImageVerifier,
) *Service {
	return &Service{
		bookRepo:  bookRepo,
		userRepo:  userRepo,
		sanitizer: sanitizer,
		covers:    covers,
	}
}

// CreateBook は書籍を貸出可能な状態で登録する。
func (s *Service) CreateBook(ctx context.Context, input BookInput) (*model.Book, error) {
	isbn, err := validateISBN(input.ISBN)
	if err != nil {
		return nil, err
	}
	title, err := s.requiredText("title", input.Title, maxTitleLength)
	if err != nil {
		return nil, err
	}
	author, err := s.requiredText("author", input.Author, maxAuthorLength)
	if err != nil {
		return nil, err
	}
	genre, err := s.optionalText("genre", input.Genre, maxGenreLength)
	if err != nil {
		return nil, err
	}
	cover, err := s.coverImage(ctx, input.CoverImage)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	book := &model.Book{
		ID:         uuid.New().String(),
		ISBN:       isbn,
		Title:      title,
		Author:     author,
		CoverImage: cover,
		Genre:      genre,
		State:      model.BookAvailable,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.bookRepo.Create(ctx, book); err != nil {
		return nil, wrapRepoError("書籍の登録に失敗しました", err)
	}

	slog.Info("book created",
		slog.String("book_id", book.ID),
		slog.String("isbn", book.ISBN),
	)
	return book, nil
}

// UpdateBook は書誌情報を部分更新する。貸出状態は変更できない。
func (s *Service) UpdateBook(ctx context.Context, bookID string, patch BookPatch) (*model.Book, error) {
	book, err := s.GetBook(ctx, bookID)
	if err != nil {
		return nil, err
	}

	if patch.ISBN != nil {
		if book.ISBN, err = validateISBN(*patch.ISBN); err != nil {
			return nil, err
		}
	}
	if patch.Title != nil {
		if book.Title, err = s.requiredText("title", *patch.Title, maxTitleLength); err != nil {
			return nil, err
		}
	}
	if patch.Author != nil {
		if book.Author, err = s.requiredText("author", *patch.Author, maxAuthorLength); err != nil {
			return nil, err
		}
	}
	if patch.Genre != nil {
		if book.Genre, err = s.optionalText("genre", patch.Genre, maxGenreLength); err != nil {
			return nil, err
		}
	}
	if patch.CoverImage != nil {
		if book.CoverImage, err = s.coverImage(ctx, patch.CoverImage); err != nil {
			return nil, err
		}
	}

	updated, err := s.bookRepo.UpdateDetails(ctx, book)
	if err != nil {
		return nil, wrapRepoError("書籍の更新に失敗しました", err)
	}
	if updated == nil {
		return nil, model.NewBookNotFoundError(bookID)
	}

	slog.Info("book updated", slog.String("book_id", bookID))
	return updated, nil
}

// DeleteBook は貸出可能な書籍を削除する。レビューと返却履歴も同時に削除される。
// 貸出中・予約中の書籍は保持者のカウンタを壊さないよう削除しない。
func (s *Service) DeleteBook(ctx context.Context, bookID string) error {
	if !model.IsValidID(bookID) {
		return model.NewBookNotFoundError(bookID)
	}

	deleted, err := s.bookRepo.DeleteIfAvailable(ctx, bookID)
	if err != nil {
		return fmt.Errorf("書籍の削除に失敗しました: %w", err)
	}
	if !deleted {
		book, err := s.bookRepo.FindByID(ctx, bookID)
		if err != nil {
			return fmt.Errorf("書籍の取得に失敗しました: %w", err)
		}
		if book == nil {
			return model.NewBookNotFoundError(bookID)
		}
		return model.NewBookInUseError(book.State)
	}

	slog.Info("book deleted", slog.String("book_id", bookID))
	return nil
}

// GetBook は指定IDの書籍を返す。
func (s *Service) GetBook(ctx context.Context, bookID string) (*model.Book, error) {
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
	return book, nil
}

// Dashboard は蔵書数と会員数を毎回集計し直して返す。
func (s *Service) Dashboard(ctx context.Context) (*model.Dashboard, error) {
	counts, err := s.bookRepo.CountByState(ctx)
	if err != nil {
		return nil, fmt.Errorf("蔵書数の集計に失敗しました: %w", err)
	}
	members, err := s.userRepo.CountByRole(ctx, model.RoleMember)
	if err != nil {
		return nil, fmt.Errorf("会員数の集計に失敗しました: %w", err)
	}

	d := &model.Dashboard{
		AvailableBooks: counts[model.BookAvailable],
		BorrowedBooks:  counts[model.BookBorrowed],
		ReservedBooks:  counts[model.BookReserved],
		TotalMembers:   members,
	}
	d.TotalBooks = d.AvailableBooks + d.BorrowedBooks + d.ReservedBooks
	return d, nil
}

// validateISBN はISBNを正規化し、数字とXだけで構成されていることを確認する。
func validateISBN(raw string) (string, error) {
	isbn := model.NormalizeISBN(raw)
	if isbn == "" {
		return "", model.NewValidationError("isbn", "ISBNを入力してください")
	}
	if len(isbn) > maxISBNLength {
		return "", model.NewValidationError("isbn", "ISBNが長すぎます")
	}
	for _, r := range isbn {
		if (r < '0' || r > '9') && r != 'X' {
			return "", model.NewValidationError("isbn", fmt.Sprintf("使用できない文字が含まれています: %q", r))
		}
	}
	return isbn, nil
}

// requiredText はタグを除去した上で空でないことと長さを検証する。
func (s *Service) requiredText(field, raw string, maxLen int) (string, error) {
	text := s.sanitizer.Clean(raw)
	if text == "" {
		return "", model.NewValidationError(field, "入力してください")
	}
	if len([]rune(text)) > maxLen {
		return "", model.NewValidationError(field, fmt.Sprintf("%d文字以内で入力してください", maxLen))
	}
	return text, nil
}

// optionalText は任意項目を検証する。nilまたは空文字列はnil（未設定）になる。
func (s *Service) optionalText(field string, raw *string, maxLen int) (*string, error) {
	if raw == nil {
		return nil, nil
	}
	text := s.sanitizer.Clean(*raw)
	if text == "" {
		return nil, nil
	}
	if len([]rune(text)) > maxLen {
		return nil, model.NewValidationError(field, fmt.Sprintf("%d文字以内で入力してください", maxLen))
	}
	return &text, nil
}

// coverImage は表紙画像URLを検証する。nilまたは空文字列はnil（未設定）になる。
func (s *Service) coverImage(ctx context.Context, raw *string) (*string, error) {
	if raw == nil {
		return nil, nil
	}
	u := strings.TrimSpace(*raw)
	if u == "" {
		return nil, nil
	}
	if err := s.covers.Verify(ctx, u); err != nil {
		return nil, err
	}
	return &u, nil
}

// wrapRepoError はAPIErrorはそのまま返し、それ以外はメッセージを付けてラップする。
func wrapRepoError(msg string, err error) error {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return err
	}
	return fmt.Errorf("%s: %w", msg, err)
}
