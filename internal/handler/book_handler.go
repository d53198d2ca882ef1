package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/librarian/internal/model"
)

// BookReaderInterface は書籍1冊の参照に必要なサービスインターフェース。
type BookReaderInterface interface {
	GetBook(ctx context.Context, bookID string) (*model.Book, error)
}

// LendingServiceInterface は貸出ハンドラーが必要とするサービスインターフェース。
type LendingServiceInterface interface {
	Borrow(ctx context.Context, bookID, callerID string) (*model.Book, error)
	Reserve(ctx context.Context, bookID, callerID string) (*model.Book, error)
	Return(ctx context.Context, bookID, callerID string) (*model.Book, error)
	CancelReservation(ctx context.Context, bookID, callerID string) (*model.Book, error)
	CheckoutReservation(ctx context.Context, bookID, callerID string) (*model.Book, error)

	// BrowseAvailable は貸出可能な書籍をタイトル・著者で絞り込んで返す。
	BrowseAvailable(ctx context.Context, query string) ([]*model.BookListing, error)
	// ListHeld は呼び出し元が借りている・予約している書籍を返す。
	ListHeld(ctx context.Context, userID string) ([]*model.Book, error)
	// ListReturned は呼び出し元の返却履歴を返す。
	ListReturned(ctx context.Context, userID string) ([]model.ReturnedBook, error)
}

// BookReviewsInterface は書籍ページのレビュー一覧に必要なサービスインターフェース。
type BookReviewsInterface interface {
	ListByBook(ctx context.Context, bookID string) ([]model.ReviewWithAuthor, error)
}

// BookHandler は会員向けの書籍閲覧と貸出遷移のHTTPハンドラー。
type BookHandler struct {
	books   BookReaderInterface
	lending LendingServiceInterface
	reviews BookReviewsInterface
}

// NewBookHandler はBookHandlerを生成する。
func NewBookHandler(books BookReaderInterface, lending LendingServiceInterface, reviews BookReviewsInterface) *BookHandler {
	return &BookHandler{
		books:   books,
		lending: lending,
		reviews: reviews,
	}
}

// Browse は貸出可能な書籍の一覧を返す。
// GET /api/books?query=xxx
func (h *BookHandler) Browse(w http.ResponseWriter, r *http.Request) {
	principal := principalOrUnauthorized(w, r)
	if principal == nil {
		return
	}

	listings, err := h.lending.BrowseAvailable(r.Context(), r.URL.Query().Get("query"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toBrowseResponse(listings, principal.UserID))
}

// GetBook は書籍の詳細を返す。
// GET /api/books/{id}
func (h *BookHandler) GetBook(w http.ResponseWriter, r *http.Request) {
	principal := principalOrUnauthorized(w, r)
	if principal == nil {
		return
	}

	book, err := h.books.GetBook(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toBookResponse(book, principal.UserID))
}

// Borrow は書籍を借りる。
// PUT /api/books/{id}/borrow
func (h *BookHandler) Borrow(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.lending.Borrow)
}

// Reserve は書籍を予約する。
// PUT /api/books/{id}/reserve
func (h *BookHandler) Reserve(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.lending.Reserve)
}

// Return は借りている書籍を返却する。
// PUT /api/books/{id}/return
func (h *BookHandler) Return(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.lending.Return)
}

// CancelReservation は自分の予約を取り消す。
// PUT /api/books/{id}/reservation/cancel
func (h *BookHandler) CancelReservation(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.lending.CancelReservation)
}

// CheckoutReservation は予約中の書籍をそのまま借りる。
// PUT /api/books/{id}/reservation/checkout
func (h *BookHandler) CheckoutReservation(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.lending.CheckoutReservation)
}

type transitionFunc func(ctx context.Context, bookID, callerID string) (*model.Book, error)

// transition は遷移を1回だけ呼び出し、遷移後の書籍を返す。
func (h *BookHandler) transition(w http.ResponseWriter, r *http.Request, fn transitionFunc) {
	principal := principalOrUnauthorized(w, r)
	if principal == nil {
		return
	}

	book, err := fn(r.Context(), chi.URLParam(r, "id"), principal.UserID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toBookResponse(book, principal.UserID))
}

// ListReviews は書籍のレビューを新しい順に返す。
// GET /api/books/{id}/reviews
func (h *BookHandler) ListReviews(w http.ResponseWriter, r *http.Request) {
	reviews, err := h.reviews.ListByBook(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toBookReviewResponses(reviews))
}

// MyBooks は呼び出し元が借りている・予約している書籍を返す。
// GET /api/me/books
func (h *BookHandler) MyBooks(w http.ResponseWriter, r *http.Request) {
	principal := principalOrUnauthorized(w, r)
	if principal == nil {
		return
	}

	books, err := h.lending.ListHeld(r.Context(), principal.UserID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toBookResponses(books, principal.UserID))
}

// MyReturned は呼び出し元の返却履歴を返す。
// GET /api/me/returned
func (h *BookHandler) MyReturned(w http.ResponseWriter, r *http.Request) {
	principal := principalOrUnauthorized(w, r)
	if principal == nil {
		return
	}

	returned, err := h.lending.ListReturned(r.Context(), principal.UserID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toReturnedResponses(returned))
}
