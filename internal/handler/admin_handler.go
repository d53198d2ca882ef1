package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/librarian/internal/catalog"
	"github.com/hitoshi/librarian/internal/lending"
	"github.com/hitoshi/librarian/internal/model"
)

// CatalogServiceInterface は蔵書管理ハンドラーが必要とするサービスインターフェース。
type CatalogServiceInterface interface {
	CreateBook(ctx context.Context, input catalog.BookInput) (*model.Book, error)
	UpdateBook(ctx context.Context, bookID string, patch catalog.BookPatch) (*model.Book, error)
	DeleteBook(ctx context.Context, bookID string) error
	Dashboard(ctx context.Context) (*model.Dashboard, error)
}

// InventoryServiceInterface は管理者向けの在庫一覧と照合に必要なサービスインターフェース。
type InventoryServiceInterface interface {
	ListBooks(ctx context.Context, filter model.BookFilter) ([]*model.BookListing, error)
	Reconcile(ctx context.Context, userID string) (*lending.Reconciliation, error)
}

// MemberServiceInterface は会員の参照に必要なサービスインターフェース。
type MemberServiceInterface interface {
	ListMembers(ctx context.Context) ([]model.MemberSummary, error)
	Profile(ctx context.Context, userID string) (*model.User, error)
}

// AdminHandler は管理者向けのHTTPハンドラー。
// RequireRole(admin)の後ろに配置する。
type AdminHandler struct {
	catalog   CatalogServiceInterface
	inventory InventoryServiceInterface
	members   MemberServiceInterface
}

// NewAdminHandler はAdminHandlerを生成する。
func NewAdminHandler(
	catalog CatalogServiceInterface,
	inventory InventoryServiceInterface,
	members MemberServiceInterface,
) *AdminHandler {
	return &AdminHandler{
		catalog:   catalog,
		inventory: inventory,
		members:   members,
	}
}

type createBookRequest struct {
	ISBN       string  `json:"isbn"`
	Title      string  `json:"title"`
	Author     string  `json:"author"`
	CoverImage *string `json:"cover_image"`
	Genre      *string `json:"genre"`
}

// updateBookRequest は部分更新。省略またはnullのフィールドは変更しない。
type updateBookRequest struct {
	ISBN       *string `json:"isbn"`
	Title      *string `json:"title"`
	Author     *string `json:"author"`
	CoverImage *string `json:"cover_image"`
	Genre      *string `json:"genre"`
}

// ListBooks は全書籍を保持者付きで返す。
// GET /api/admin/books?status=borrowed&query=tolkien
func (h *AdminHandler) ListBooks(w http.ResponseWriter, r *http.Request) {
	state, err := model.ParseBookState(r.URL.Query().Get("status"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	listings, err := h.inventory.ListBooks(r.Context(), model.BookFilter{
		State: state,
		Query: r.URL.Query().Get("query"),
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toAdminBookListResponse(listings))
}

// CreateBook は書籍を登録する。
// POST /api/admin/books
func (h *AdminHandler) CreateBook(w http.ResponseWriter, r *http.Request) {
	var req createBookRequest
	if err := decodeJSON(r, &req); err != nil {
		handleServiceError(w, err)
		return
	}

	book, err := h.catalog.CreateBook(r.Context(), catalog.BookInput{
		ISBN:       req.ISBN,
		Title:      req.Title,
		Author:     req.Author,
		CoverImage: req.CoverImage,
		Genre:      req.Genre,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toAdminBookResponse(book, nil, nil))
}

// UpdateBook は書誌情報を部分更新する。
// PATCH /api/admin/books/{id}
func (h *AdminHandler) UpdateBook(w http.ResponseWriter, r *http.Request) {
	var req updateBookRequest
	if err := decodeJSON(r, &req); err != nil {
		handleServiceError(w, err)
		return
	}

	book, err := h.catalog.UpdateBook(r.Context(), chi.URLParam(r, "id"), catalog.BookPatch(req))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toAdminBookResponse(book, nil, nil))
}

// DeleteBook は貸出可能な書籍を削除する。
// DELETE /api/admin/books/{id}
func (h *AdminHandler) DeleteBook(w http.ResponseWriter, r *http.Request) {
	if err := h.catalog.DeleteBook(r.Context(), chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListMembers は会員一覧を貸出中の書籍付きで返す。
// GET /api/admin/members
func (h *AdminHandler) ListMembers(w http.ResponseWriter, r *http.Request) {
	members, err := h.members.ListMembers(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toMemberResponses(members))
}

// GetMember は会員1人のカウンタを返す。
// GET /api/admin/members/{id}
func (h *AdminHandler) GetMember(w http.ResponseWriter, r *http.Request) {
	u, err := h.members.Profile(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(u))
}

// Reconcile は会員の貸出中冊数を書籍の状態と照合し、ずれていれば修復する。
// POST /api/admin/members/{id}/reconcile
func (h *AdminHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	result, err := h.inventory.Reconcile(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toReconciliationResponse(result))
}

// Dashboard は蔵書と会員の集計値を返す。
// GET /api/admin/dashboard
func (h *AdminHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	dashboard, err := h.catalog.Dashboard(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, dashboard)
}
