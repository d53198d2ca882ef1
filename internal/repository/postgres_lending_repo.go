package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/hitoshi/librarian/internal/model"
)

// PostgresLendingRepo はPostgreSQLを使用した貸出遷移リポジトリ。
// 書籍行の SELECT ... FOR UPDATE で同一書籍への遷移を直列化する。
type PostgresLendingRepo struct {
	db *sqlx.DB
}

// NewPostgresLendingRepo はPostgresLendingRepoを生成する。
func NewPostgresLendingRepo(db *sqlx.DB) *PostgresLendingRepo {
	return &PostgresLendingRepo{db: db}
}

// MutateBook は書籍の行ロックを取得してfnを適用し、書籍・ユーザーのカウンタ・返却履歴を
// 1つのトランザクションで書き込む。
func (r *PostgresLendingRepo) MutateBook(ctx context.Context, bookID string, fn BookMutation) (*model.Book, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Commit後のRollbackは無害

	book := &model.Book{}
	err = tx.GetContext(ctx, book, `SELECT `+bookColumns+` FROM books WHERE id = $1 FOR UPDATE`, bookID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock book: %w", err)
	}

	update, err := fn(book)
	if err != nil {
		return nil, err
	}

	saved := &model.Book{}
	err = tx.GetContext(ctx, saved,
		`UPDATE books
		 SET state = $2, holder_id = $3, borrowed_at = $4, return_due_at = $5, updated_at = now()
		 WHERE id = $1
		 RETURNING `+bookColumns,
		book.ID, string(book.State), book.HolderID, book.BorrowedAt, book.ReturnDueAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update book state: %w", err)
	}

	if update != nil {
		if err := applyCounterUpdate(ctx, tx, update); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return saved, nil
}

// applyCounterUpdate はユーザーのカウンタ差分と返却履歴をトランザクション内で書き込む。
// 貸出中冊数は0未満にならないよう切り詰める。
func applyCounterUpdate(ctx context.Context, tx *sqlx.Tx, update *model.CounterUpdate) error {
	if update.OutstandingDelta != 0 || update.LifetimeDelta != 0 {
		result, err := tx.ExecContext(ctx,
			`UPDATE users
			 SET outstanding_count = GREATEST(outstanding_count + $2, 0),
			     lifetime_borrow_count = lifetime_borrow_count + $3,
			     updated_at = now()
			 WHERE id = $1`,
			update.UserID, update.OutstandingDelta, update.LifetimeDelta,
		)
		if err != nil {
			return fmt.Errorf("failed to update user counters: %w", err)
		}
		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rowsAffected == 0 {
			return model.NewUserNotFoundError()
		}
	}

	if update.ReturnedBookID != "" {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO user_returned_books (user_id, book_id, returned_at) VALUES ($1, $2, $3)`,
			update.UserID, update.ReturnedBookID, update.ReturnedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to record returned book: %w", err)
		}
	}
	return nil
}

// CountBorrowedByHolder は state = borrowed かつ holder = userID の冊数を数える。
func (r *PostgresLendingRepo) CountBorrowedByHolder(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count,
		`SELECT count(*) FROM books WHERE state = $1 AND holder_id = $2`,
		string(model.BookBorrowed), userID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to count borrowed books: %w", err)
	}
	return count, nil
}

// RepairOutstanding はユーザー行を FOR UPDATE でロックしてから冊数を数え直す。
// 遷移側のカウンタ更新も同じ行ロックを取るため、ロック取得後の集計には
// コミット済みの遷移がすべて反映され、未コミットの遷移は差分加算で後から積まれる。
func (r *PostgresLendingRepo) RepairOutstanding(ctx context.Context, userID string) (int, int, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Commit後のRollbackは無害

	var stored int
	err = tx.GetContext(ctx, &stored, `SELECT outstanding_count FROM users WHERE id = $1 FOR UPDATE`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, model.NewUserNotFoundError()
	}
	if err != nil {
		return 0, 0, fmt.Errorf("failed to lock user: %w", err)
	}

	var actual int
	err = tx.GetContext(ctx, &actual,
		`SELECT count(*) FROM books WHERE state = $1 AND holder_id = $2`,
		string(model.BookBorrowed), userID,
	)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count borrowed books: %w", err)
	}

	if actual != stored {
		_, err = tx.ExecContext(ctx,
			`UPDATE users SET outstanding_count = $2, updated_at = now() WHERE id = $1`,
			userID, actual,
		)
		if err != nil {
			return 0, 0, fmt.Errorf("failed to repair outstanding count: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return stored, actual, nil
}

// ListReturned はユーザーの返却履歴を返却順に返す。
func (r *PostgresLendingRepo) ListReturned(ctx context.Context, userID string) ([]model.ReturnedBook, error) {
	returned := []model.ReturnedBook{}
	err := r.db.SelectContext(ctx, &returned,
		`SELECT rb.book_id, b.title, b.author, rb.returned_at
		 FROM user_returned_books rb
		 JOIN books b ON b.id = rb.book_id
		 WHERE rb.user_id = $1
		 ORDER BY rb.returned_at, rb.id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list returned books: %w", err)
	}
	return returned, nil
}

// HasReturned はユーザーが書籍を1回以上返却しているかを返す。
func (r *PostgresLendingRepo) HasReturned(ctx context.Context, userID, bookID string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists,
		`SELECT EXISTS(SELECT 1 FROM user_returned_books WHERE user_id = $1 AND book_id = $2)`,
		userID, bookID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to check returned history: %w", err)
	}
	return exists, nil
}

// compile-time interface check
var _ LendingRepository = (*PostgresLendingRepo)(nil)
