// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/librarian/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create はユーザーを作成する。メールアドレスが重複する場合はConflictのAPIErrorを返す。
	Create(ctx context.Context, user *model.User) error

	// ListByRole は指定ロールのユーザーを作成日時順に返す。
	ListByRole(ctx context.Context, role model.Role) ([]*model.User, error)

	// CountByRole は指定ロールのユーザー数を返す。
	CountByRole(ctx context.Context, role model.Role) (int, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// FindPrincipal はセッションIDから呼び出し元のユーザーIDとロールを解決する。
	// 期限切れ・未登録の場合はnilを返す。
	FindPrincipal(ctx context.Context, sessionID string) (*model.Principal, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
	// DeleteExpired は期限切れセッションを最大limit件削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, limit int) (int64, error)
}

// BookRepository は蔵書データの永続化インターフェース。
// 貸出状態の変更はLendingRepositoryのみが行う。
type BookRepository interface {
	// FindByID は指定IDの書籍を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Book, error)

	// Create は書籍を作成する。ISBNが重複する場合はConflictのAPIErrorを返す。
	Create(ctx context.Context, book *model.Book) error

	// UpdateDetails は書誌情報（タイトル・著者・ISBN・ジャンル・表紙）のみを更新する。
	// 見つからない場合はnilを返す。ISBNが重複する場合はConflictのAPIErrorを返す。
	UpdateDetails(ctx context.Context, book *model.Book) (*model.Book, error)

	// DeleteIfAvailable は貸出可能状態の書籍だけを削除する。
	// 削除できた場合はtrueを返す。
	DeleteIfAvailable(ctx context.Context, id string) (bool, error)

	// List は条件に合う書籍を保持者情報付きで新しい順に返す。
	// State が空なら状態で絞り込まず、Query が空ならタイトル・著者で絞り込まない。
	List(ctx context.Context, filter model.BookFilter) ([]*model.BookListing, error)

	// ListByHolder は指定ユーザーが保持者（貸出中・予約中）の書籍を返す。
	ListByHolder(ctx context.Context, holderID string) ([]*model.Book, error)

	// CountByState は状態ごとの冊数を返す。
	CountByState(ctx context.Context) (map[model.BookState]int, error)
}

// BookMutation は行ロック下の書籍に貸出遷移を適用する関数。
// 書籍を書き換え、ユーザーのカウンタに反映すべき差分を返す（差分がなければnil）。
// エラーを返した場合は何も永続化されない。
type BookMutation func(book *model.Book) (*model.CounterUpdate, error)

// LendingRepository は貸出遷移の永続化インターフェース。
type LendingRepository interface {
	// MutateBook は書籍を排他的に読み込み、fnを適用し、書籍とユーザーのカウンタを
	// 同一トランザクションで書き込む。書籍が見つからない場合はfnを呼ばずnilを返す。
	MutateBook(ctx context.Context, bookID string, fn BookMutation) (*model.Book, error)

	// CountBorrowedByHolder は state = borrowed かつ holder = userID の冊数を数える。
	CountBorrowedByHolder(ctx context.Context, userID string) (int, error)

	// RepairOutstanding はユーザーの貸出中冊数を再計算し、保存値と異なれば上書きする。
	// 再計算と書き込みの間に他の遷移がカウンタを書き換えることはない。
	// ユーザーが存在しない場合はUserNotFoundのAPIErrorを返す。
	RepairOutstanding(ctx context.Context, userID string) (stored, actual int, err error)

	// ListReturned はユーザーの返却履歴を返却順に返す。
	ListReturned(ctx context.Context, userID string) ([]model.ReturnedBook, error)

	// HasReturned はユーザーが書籍を1回以上返却しているかを返す。
	HasReturned(ctx context.Context, userID, bookID string) (bool, error)
}

// ReviewRepository はレビューの永続化インターフェース。
type ReviewRepository interface {
	// FindByID は指定IDのレビューを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Review, error)
	// Create はレビューを作成する。
	Create(ctx context.Context, review *model.Review) error
	// Delete は指定IDのレビューを削除する。削除できた場合はtrueを返す。
	Delete(ctx context.Context, id string) (bool, error)
	// ListByBook は書籍のレビューを投稿者情報付きで新しい順に返す。
	ListByBook(ctx context.Context, bookID string) ([]model.ReviewWithAuthor, error)
	// ListAll は全レビューを投稿者・書籍情報付きで新しい順に返す。
	ListAll(ctx context.Context) ([]model.ReviewDetail, error)
}
