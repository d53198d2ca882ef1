package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/hitoshi/librarian/internal/model"
)

// PostgresReviewRepo はPostgreSQLを使用したレビューリポジトリ。
type PostgresReviewRepo struct {
	db *sqlx.DB
}

// NewPostgresReviewRepo はPostgresReviewRepoを生成する。
func NewPostgresReviewRepo(db *sqlx.DB) *PostgresReviewRepo {
	return &PostgresReviewRepo{db: db}
}

// FindByID は指定IDのレビューを取得する。見つからない場合はnilを返す。
func (r *PostgresReviewRepo) FindByID(ctx context.Context, id string) (*model.Review, error) {
	review := &model.Review{}
	err := r.db.GetContext(ctx, review,
		`SELECT id, book_id, user_id, rating, comment, created_at FROM reviews WHERE id = $1`,
		id,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find review: %w", err)
	}
	return review, nil
}

// Create はレビューを作成する。
func (r *PostgresReviewRepo) Create(ctx context.Context, review *model.Review) error {
	_, err := r.db.NamedExecContext(ctx,
		`INSERT INTO reviews (id, book_id, user_id, rating, comment, created_at)
		 VALUES (:id, :book_id, :user_id, :rating, :comment, :created_at)`,
		review,
	)
	if err != nil {
		return fmt.Errorf("failed to insert review: %w", err)
	}
	return nil
}

// Delete は指定IDのレビューを削除する。
func (r *PostgresReviewRepo) Delete(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM reviews WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete review: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// ListByBook は書籍のレビューを投稿者情報付きで新しい順に返す。
func (r *PostgresReviewRepo) ListByBook(ctx context.Context, bookID string) ([]model.ReviewWithAuthor, error) {
	reviews := []model.ReviewWithAuthor{}
	err := r.db.SelectContext(ctx, &reviews,
		`SELECT rv.id, rv.book_id, rv.user_id, rv.rating, rv.comment, rv.created_at,
		        u.name AS author_name, u.email AS author_email
		 FROM reviews rv
		 JOIN users u ON u.id = rv.user_id
		 WHERE rv.book_id = $1
		 ORDER BY rv.created_at DESC, rv.id`,
		bookID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list reviews by book: %w", err)
	}
	return reviews, nil
}

// ListAll は全レビューを投稿者・書籍情報付きで新しい順に返す。
func (r *PostgresReviewRepo) ListAll(ctx context.Context) ([]model.ReviewDetail, error) {
	reviews := []model.ReviewDetail{}
	err := r.db.SelectContext(ctx, &reviews,
		`SELECT rv.id, rv.book_id, rv.user_id, rv.rating, rv.comment, rv.created_at,
		        u.name AS author_name, u.email AS author_email,
		        b.title AS book_title, b.author AS book_author
		 FROM reviews rv
		 JOIN users u ON u.id = rv.user_id
		 JOIN books b ON b.id = rv.book_id
		 ORDER BY rv.created_at DESC, rv.id`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list reviews: %w", err)
	}
	return reviews, nil
}

// compile-time interface check
var _ ReviewRepository = (*PostgresReviewRepo)(nil)
