package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/okian/greenpoints/internal/domain/model"
)

const defaultSubmissionPage = 50

type submissionView struct {
	ID             string    `json:"submission_id"`
	BarcodeID      string    `json:"barcode_id"`
	ProductName    string    `json:"product_name"`
	ImageHash      string    `json:"image_hash"`
	PackagingScore int       `json:"packaging_score"`
	PointsAwarded  int64     `json:"points_awarded"`
	TotalPoints    int64     `json:"total_points"`
	CreatedAt      time.Time `json:"created_at"`
}

func newSubmissionView(sub model.Submission) submissionView {
	return submissionView{
		ID:             sub.ID,
		BarcodeID:      sub.ItemReference,
		ProductName:    sub.ItemName,
		ImageHash:      sub.ProofDigest,
		PackagingScore: sub.ExternalScore,
		PointsAwarded:  sub.AwardedUnits,
		TotalPoints:    sub.Balance,
		CreatedAt:      sub.CreatedAt,
	}
}

// handleSubmissions handles GET /api/submissions/{pubkey}[?limit=N], newest
// first. limit=0 returns every submission.
func (s *Server) handleSubmissions(w http.ResponseWriter, r *http.Request) {
	const op = "api.submissions"
	limit, err := queryLimit(r, defaultSubmissionPage)
	if err != nil {
		writeError(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	subs, err := s.deps.Submissions(r.Context(), chi.URLParam(r, "pubkey"), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]submissionView, 0, len(subs))
	for _, sub := range subs {
		out = append(out, newSubmissionView(sub))
	}
	writeJSON(w, http.StatusOK, out)
}
