package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/librarian/internal/model"
	"github.com/hitoshi/librarian/internal/review"
)

// ReviewServiceInterface はレビューハンドラーが必要とするサービスインターフェース。
type ReviewServiceInterface interface {
	AddReview(ctx context.Context, callerID string, input review.AddInput) (*model.Review, error)
	DeleteReview(ctx context.Context, callerRole model.Role, reviewID string) error
	ListAll(ctx context.Context, callerRole model.Role) ([]model.ReviewDetail, error)
}

// ReviewHandler はレビューのHTTPハンドラー。
type ReviewHandler struct {
	service ReviewServiceInterface
}

// NewReviewHandler はReviewHandlerを生成する。
func NewReviewHandler(service ReviewServiceInterface) *ReviewHandler {
	return &ReviewHandler{service: service}
}

type addReviewRequest struct {
	BookID  string `json:"book_id"`
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

// AddReview はレビューを投稿する。
// POST /api/reviews
func (h *ReviewHandler) AddReview(w http.ResponseWriter, r *http.Request) {
	principal := principalOrUnauthorized(w, r)
	if principal == nil {
		return
	}

	var req addReviewRequest
	if err := decodeJSON(r, &req); err != nil {
		handleServiceError(w, err)
		return
	}

	created, err := h.service.AddReview(r.Context(), principal.UserID, review.AddInput{
		BookID:  req.BookID,
		Rating:  req.Rating,
		Comment: req.Comment,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toReviewResponse(created))
}

// ListAll は全レビューを返す（管理者のみ）。
// GET /api/admin/reviews
func (h *ReviewHandler) ListAll(w http.ResponseWriter, r *http.Request) {
	principal := principalOrUnauthorized(w, r)
	if principal == nil {
		return
	}

	reviews, err := h.service.ListAll(r.Context(), principal.Role)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toReviewDetailResponses(reviews))
}

// DeleteReview はレビューを削除する（管理者のみ）。
// DELETE /api/admin/reviews/{id}
func (h *ReviewHandler) DeleteReview(w http.ResponseWriter, r *http.Request) {
	principal := principalOrUnauthorized(w, r)
	if principal == nil {
		return
	}

	if err := h.service.DeleteReview(r.Context(), principal.Role, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
