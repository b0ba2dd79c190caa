package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/okian/greenpoints/internal/domain/submission"
)

// multipart headers and non-file fields on top of the proof itself
const formOverheadBytes = 1 << 20

type validateResponse struct {
	Status         string `json:"status"`
	BarcodeID      string `json:"barcode_id"`
	ProductName    string `json:"product_name"`
	ImageHash      string `json:"image_hash"`
	PackagingScore int    `json:"packaging_score"`
	PointsAwarded  int64  `json:"points_awarded"`
	TotalPoints    int64  `json:"total_points"`
	SubmissionID   string `json:"submission_id"`
}

// handleValidate handles POST /api/validate: a multipart form carrying
// barcode_id, pubkey, the image proof and either a password field or a
// bearer token.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	const op = "api.validate"

	r.Body = http.MaxBytesReader(w, r.Body, s.maxProofBytes+formOverheadBytes)
	if err := r.ParseMultipartForm(formOverheadBytes); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, WrapKind(op, ErrPayload, err))
			return
		}
		writeError(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	barcode := strings.TrimSpace(r.FormValue("barcode_id"))
	pubkey := strings.TrimSpace(r.FormValue("pubkey"))
	if barcode == "" || pubkey == "" {
		writeError(w, WrapKind(op, ErrBadRequest, errors.New("barcode_id and pubkey are required")))
		return
	}

	credential := bearerToken(r)
	if credential == "" {
		credential = r.FormValue("password")
	}
	if credential == "" {
		writeError(w, WrapKind(op, ErrBadRequest, errors.New("password or bearer token is required")))
		return
	}

	file, _, err := r.FormFile("image")
	if err != nil {
		writeError(w, WrapKind(op, ErrBadRequest, fmt.Errorf("image: %w", err)))
		return
	}
	defer file.Close()

	proof, err := io.ReadAll(io.LimitReader(file, s.maxProofBytes+1))
	if err != nil {
		writeError(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	if int64(len(proof)) > s.maxProofBytes {
		writeError(w, WrapKind(op, ErrPayload, fmt.Errorf("image exceeds %d bytes", s.maxProofBytes)))
		return
	}

	sub, err := s.deps.Submit(r.Context(), submission.Request{
		AccountID:     pubkey,
		Credential:    credential,
		ItemReference: barcode,
		Proof:         proof,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, validateResponse{
		Status:         "success",
		BarcodeID:      sub.ItemReference,
		ProductName:    sub.ItemName,
		ImageHash:      sub.ProofDigest,
		PackagingScore: sub.ExternalScore,
		PointsAwarded:  sub.AwardedUnits,
		TotalPoints:    sub.Balance,
		SubmissionID:   sub.ID,
	})
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
