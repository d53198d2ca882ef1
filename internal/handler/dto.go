package handler

import (
	"time"

	"github.com/hitoshi/librarian/internal/lending"
	"github.com/hitoshi/librarian/internal/model"
)

// userResponse はユーザー情報のAPIレスポンス。パスワードハッシュは含めない。
type userResponse struct {
	ID                  string    `json:"id"`
	Email               string    `json:"email"`
	Name                string    `json:"name"`
	Role                string    `json:"role"`
	OutstandingCount    int       `json:"outstanding_count"`
	LifetimeBorrowCount int       `json:"lifetime_borrow_count"`
	OverdueCount        int       `json:"overdue_count"`
	CreatedAt           time.Time `json:"created_at"`
}

func toUserResponse(u *model.User) userResponse {
	return userResponse{
		ID:                  u.ID,
		Email:               u.Email,
		Name:                u.Name,
		Role:                string(u.Role),
		OutstandingCount:    u.OutstandingCount,
		LifetimeBorrowCount: u.LifetimeBorrowCount,
		OverdueCount:        u.OverdueCount,
		CreatedAt:           u.CreatedAt,
	}
}

// bookResponse は会員向けの書籍情報。保持者のIDは公開せず、本人かどうかだけを返す。
type bookResponse struct {
	ID         string     `json:"id"`
	ISBN       string     `json:"isbn"`
	Title      string     `json:"title"`
	Author     string     `json:"author"`
	CoverImage *string    `json:"cover_image"`
	Genre      *string    `json:"genre"`
	Status     string     `json:"status"`
	HeldByMe   bool       `json:"held_by_me"`
	BorrowedAt *time.Time `json:"borrowed_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

func toBookResponse(b *model.Book, callerID string) bookResponse {
	resp := bookResponse{
		ID:         b.ID,
		ISBN:       b.ISBN,
		Title:      b.Title,
		Author:     b.Author,
		CoverImage: b.CoverImage,
		Genre:      b.Genre,
		Status:     string(b.State),
		HeldByMe:   b.IsHeldBy(callerID),
		CreatedAt:  b.CreatedAt,
	}
	if resp.HeldByMe {
		resp.BorrowedAt = b.BorrowedAt
	}
	return resp
}

func toBookResponses(books []*model.Book, callerID string) []bookResponse {
	out := make([]bookResponse, 0, len(books))
	for _, b := range books {
		out = append(out, toBookResponse(b, callerID))
	}
	return out
}

// holderResponse は保持者の概要。
type holderResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// adminBookResponse は管理者向けの書籍情報。保持者を含む。
type adminBookResponse struct {
	ID          string          `json:"id"`
	ISBN        string          `json:"isbn"`
	Title       string          `json:"title"`
	Author      string          `json:"author"`
	CoverImage  *string         `json:"cover_image"`
	Genre       *string         `json:"genre"`
	Status      string          `json:"status"`
	Holder      *holderResponse `json:"holder"`
	BorrowedAt  *time.Time      `json:"borrowed_at"`
	ReturnDueAt *time.Time      `json:"return_due_at"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func toAdminBookResponse(b *model.Book, holderName, holderEmail *string) adminBookResponse {
	resp := adminBookResponse{
		ID:          b.ID,
		ISBN:        b.ISBN,
		Title:       b.Title,
		Author:      b.Author,
		CoverImage:  b.CoverImage,
		Genre:       b.Genre,
		Status:      string(b.State),
		BorrowedAt:  b.BorrowedAt,
		ReturnDueAt: b.ReturnDueAt,
		CreatedAt:   b.CreatedAt,
		UpdatedAt:   b.UpdatedAt,
	}
	if b.HolderID != nil {
		resp.Holder = &holderResponse{ID: *b.HolderID}
		if holderName != nil {
			resp.Holder.Name = *holderName
		}
		if holderEmail != nil {
			resp.Holder.Email = *holderEmail
		}
	}
	return resp
}

func toAdminBookListResponse(listings []*model.BookListing) []adminBookResponse {
	out := make([]adminBookResponse, 0, len(listings))
	for _, l := range listings {
		out = append(out, toAdminBookResponse(&l.Book, l.HolderName, l.HolderEmail))
	}
	return out
}

func toBrowseResponse(listings []*model.BookListing, callerID string) []bookResponse {
	out := make([]bookResponse, 0, len(listings))
	for _, l := range listings {
		out = append(out, toBookResponse(&l.Book, callerID))
	}
	return out
}

// returnedBookResponse は返却履歴の1件。
type returnedBookResponse struct {
	BookID     string    `json:"book_id"`
	Title      string    `json:"title"`
	Author     string    `json:"author"`
	ReturnedAt time.Time `json:"returned_at"`
}

func toReturnedResponses(returned []model.ReturnedBook) []returnedBookResponse {
	out := make([]returnedBookResponse, 0, len(returned))
	for _, r := range returned {
		out = append(out, returnedBookResponse(r))
	}
	return out
}

// reviewResponse はレビューのAPIレスポンス。
type reviewResponse struct {
	ID        string              `json:"id"`
	BookID    string              `json:"book_id"`
	Rating    int                 `json:"rating"`
	Comment   string              `json:"comment"`
	CreatedAt time.Time           `json:"created_at"`
	Author    *reviewerResponse   `json:"author,omitempty"`
	Book      *reviewBookResponse `json:"book,omitempty"`
}

type reviewerResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

type reviewBookResponse struct {
	Title  string `json:"title"`
	Author string `json:"author"`
}

func toReviewResponse(r *model.Review) reviewResponse {
	return reviewResponse{
		ID:        r.ID,
		BookID:    r.BookID,
		Rating:    r.Rating,
		Comment:   r.Comment,
		CreatedAt: r.CreatedAt,
	}
}

// toBookReviewResponses は書籍ページ向け。投稿者のメールは公開しない。
func toBookReviewResponses(reviews []model.ReviewWithAuthor) []reviewResponse {
	out := make([]reviewResponse, 0, len(reviews))
	for i := range reviews {
		resp := toReviewResponse(&reviews[i].Review)
		resp.Author = &reviewerResponse{ID: reviews[i].UserID, Name: reviews[i].AuthorName}
		out = append(out, resp)
	}
	return out
}

func toReviewDetailResponses(reviews []model.ReviewDetail) []reviewResponse {
	out := make([]reviewResponse, 0, len(reviews))
	for i := range reviews {
		d := &reviews[i]
		resp := toReviewResponse(&d.Review)
		resp.Author = &reviewerResponse{ID: d.UserID, Name: d.AuthorName, Email: d.AuthorEmail}
		resp.Book = &reviewBookResponse{Title: d.BookTitle, Author: d.BookAuthor}
		out = append(out, resp)
	}
	return out
}

// memberResponse は会員一覧の1行。
type memberResponse struct {
	userResponse
	CurrentBook *bookSummaryResponse `json:"current_book"`
}

type bookSummaryResponse struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Author     string     `json:"author"`
	BorrowedAt *time.Time `json:"borrowed_at"`
}

func toMemberResponses(members []model.MemberSummary) []memberResponse {
	out := make([]memberResponse, 0, len(members))
	for i := range members {
		m := &members[i]
		resp := memberResponse{userResponse: toUserResponse(&m.User)}
		if m.CurrentBook != nil {
			resp.CurrentBook = &bookSummaryResponse{
				ID:         m.CurrentBook.ID,
				Title:      m.CurrentBook.Title,
				Author:     m.CurrentBook.Author,
				BorrowedAt: m.CurrentBook.BorrowedAt,
			}
		}
		out = append(out, resp)
	}
	return out
}

// reconciliationResponse は貸出中冊数の照合結果。
type reconciliationResponse struct {
	UserID   string `json:"user_id"`
	Stored   int    `json:"stored"`
	Actual   int    `json:"actual"`
	Drift    int    `json:"drift"`
	Repaired bool   `json:"repaired"`
}

func toReconciliationResponse(r *lending.Reconciliation) reconciliationResponse {
	return reconciliationResponse{
		UserID:   r.UserID,
		Stored:   r.Stored,
		Actual:   r.Actual,
		Drift:    r.Drift(),
		Repaired: r.Repaired,
	}
}
