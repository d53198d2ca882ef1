package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	"github.com/jmoiron/sqlx"

	"github.com/hitoshi/librarian/internal/model"
)

const (
	dialectPostgres = "postgres"
	tableBooks      = "books"

	bookColumns = `id, isbn, title, author, cover_image, genre, state,
	holder_id, borrowed_at, return_due_at, created_at, updated_at`
)

// likeEscaper はLIKEパターンのメタ文字をエスケープする。
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// PostgresBookRepo はPostgreSQLを使用した蔵書リポジトリ。
type PostgresBookRepo struct {
	db *sqlx.DB
}

// NewPostgresBookRepo はPostgresBookRepoを生成する。
func NewPostgresBookRepo(db *sqlx.DB) *PostgresBookRepo {
	return &PostgresBookRepo{db: db}
}

// FindByID は指定IDの書籍を取得する。見つからない場合はnilを返す。
func (r *PostgresBookRepo) FindByID(ctx context.Context, id string) (*model.Book, error) {
	book := &model.Book{}
	err := r.db.GetContext(ctx, book, `SELECT `+bookColumns+` FROM books WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find book by ID: %w", err)
	}
	return book, nil
}

// Create は書籍を作成する。
func (r *PostgresBookRepo) Create(ctx context.Context, book *model.Book) error {
	_, err := r.db.NamedExecContext(ctx,
		`INSERT INTO books (id, isbn, title, author, cover_image, genre, state,
		     holder_id, borrowed_at, return_due_at, created_at, updated_at)
		 VALUES (:id, :isbn, :title, :author, :cover_image, :genre, :state,
		     :holder_id, :borrowed_at, :return_due_at, :created_at, :updated_at)`,
		book,
	)
	if isUniqueViolation(err, "books_isbn_key") {
		return model.NewDuplicateISBNError(book.ISBN)
	}
	if err != nil {
		return fmt.Errorf("failed to insert book: %w", err)
	}
	return nil
}

// UpdateDetails は書誌情報のみを更新する。貸出状態の列には触れない。
func (r *PostgresBookRepo) UpdateDetails(ctx context.Context, book *model.Book) (*model.Book, error) {
	updated := &model.Book{}
	err := r.db.GetContext(ctx, updated,
		`UPDATE books
		 SET isbn = $2, title = $3, author = $4, cover_image = $5, genre = $6, updated_at = now()
		 WHERE id = $1
		 RETURNING `+bookColumns,
		book.ID, book.ISBN, book.Title, book.Author, book.CoverImage, book.Genre,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if isUniqueViolation(err, "books_isbn_key") {
		return nil, model.NewDuplicateISBNError(book.ISBN)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update book: %w", err)
	}
	return updated, nil
}

// DeleteIfAvailable は貸出可能状態の書籍だけを削除する。
// レビューと返却履歴は外部キーのON DELETE CASCADEで同時に削除される。
func (r *PostgresBookRepo) DeleteIfAvailable(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM books WHERE id = $1 AND state = $2`,
		id, string(model.BookAvailable),
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete book: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// List は条件に合う書籍を保持者情報付きで新しい順に返す。
func (r *PostgresBookRepo) List(ctx context.Context, filter model.BookFilter) ([]*model.BookListing, error) {
	query, args, err := buildBookListQuery(filter)
	if err != nil {
		return nil, fmt.Errorf("failed to build book list query: %w", err)
	}

	books := []*model.BookListing{}
	if err := r.db.SelectContext(ctx, &books, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list books: %w", err)
	}
	return books, nil
}

// buildBookListQuery は一覧取得のSQLを組み立てる。
// 状態は完全一致、検索語はタイトルまたは著者の大文字小文字を区別しない部分一致。
func buildBookListQuery(filter model.BookFilter) (string, []interface{}, error) {
	stmt := goqu.Dialect(dialectPostgres).
		From(goqu.T(tableBooks).As("b")).
		LeftJoin(goqu.T("users").As("u"), goqu.On(goqu.I("u.id").Eq(goqu.I("b.holder_id")))).
		Select(
			goqu.I("b.id"), goqu.I("b.isbn"), goqu.I("b.title"), goqu.I("b.author"),
			goqu.I("b.cover_image"), goqu.I("b.genre"), goqu.I("b.state"),
			goqu.I("b.holder_id"), goqu.I("b.borrowed_at"), goqu.I("b.return_due_at"),
			goqu.I("b.created_at"), goqu.I("b.updated_at"),
			goqu.I("u.name").As("holder_name"), goqu.I("u.email").As("holder_email"),
		).
		Order(goqu.I("b.created_at").Desc(), goqu.I("b.id").Asc()).
		Prepared(true)

	if filter.State != "" {
		stmt = stmt.Where(goqu.I("b.state").Eq(string(filter.State)))
	}
	if q := strings.TrimSpace(filter.Query); q != "" {
		pattern := "%" + likeEscaper.Replace(q) + "%"
		stmt = stmt.Where(goqu.Or(
			goqu.I("b.title").ILike(pattern),
			goqu.I("b.author").ILike(pattern),
		))
	}

	return stmt.ToSQL()
}

// ListByHolder は指定ユーザーが保持者の書籍を返す。
func (r *PostgresBookRepo) ListByHolder(ctx context.Context, holderID string) ([]*model.Book, error) {
	books := []*model.Book{}
	err := r.db.SelectContext(ctx, &books,
		`SELECT `+bookColumns+` FROM books WHERE holder_id = $1 ORDER BY borrowed_at DESC NULLS LAST, id`,
		holderID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list books by holder: %w", err)
	}
	return books, nil
}

// CountByState は状態ごとの冊数を返す。冊数が0の状態もキーとして含む。
func (r *PostgresBookRepo) CountByState(ctx context.Context) (map[model.BookState]int, error) {
	query, args, err := goqu.Dialect(dialectPostgres).
		From(tableBooks).
		Select(goqu.C("state"), goqu.COUNT("*").As("count")).
		GroupBy(goqu.C("state")).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build count query: %w", err)
	}

	var rows []struct {
		State model.BookState `db:"state"`
		Count int             `db:"count"`
	}
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to count books by state: %w", err)
	}

	counts := map[model.BookState]int{
		model.BookAvailable: 0,
		model.BookBorrowed:  0,
		model.BookReserved:  0,
	}
	for _, row := range rows {
		counts[row.State] = row.Count
	}
	return counts, nil
}

// compile-time interface check
var _ BookRepository = (*PostgresBookRepo)(nil)
