package model

import "time"

const (
	// MinRating はレビュー評価の最小値。
	MinRating = 1
	// MaxRating はレビュー評価の最大値。
	MaxRating = 5
)

// Review は会員が書籍に付けたレビュー。作成後に更新されることはない。
type Review struct {
	ID        string    `db:"id"`
	BookID    string    `db:"book_id"`
	UserID    string    `db:"user_id"`
	Rating    int       `db:"rating"`
	Comment   string    `db:"comment"`
	CreatedAt time.Time `db:"created_at"`
}

// ReviewWithAuthor は投稿者の表示名とメールを結合したレビュー。
type ReviewWithAuthor struct {
	Review
	AuthorName  string `db:"author_name"`
	AuthorEmail string `db:"author_email"`
}

// ReviewDetail は投稿者と書籍の概要を結合したレビュー（管理者向け）。
type ReviewDetail struct {
	ReviewWithAuthor
	BookTitle  string `db:"book_title"`
	BookAuthor string `db:"book_author"`
}
