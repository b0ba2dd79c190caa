// Package submission validates proof-of-recycling submissions and credits
// the submitting account.
package submission

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/okian/greenpoints/internal/domain/dedupe"
	"github.com/okian/greenpoints/internal/domain/model"
	"github.com/okian/greenpoints/internal/domain/scoring"
)

// Authenticator checks that credential proves ownership of accountID.
// A false result with a nil error is an ordinary authentication failure.
type Authenticator interface {
	Authenticate(ctx context.Context, accountID, credential string) (bool, error)
}

// Catalog looks up an item by reference.
type Catalog interface {
	Lookup(ctx context.Context, ref string) (model.Item, error)
}

// Recorder credits a submission's units and stores the submission in one
// atomic step, returning it stamped with the new balance.
type Recorder interface {
	CreditSubmission(ctx context.Context, sub model.Submission) (model.Submission, error)
}

// Request is a submission as received from a client.
type Request struct {
	AccountID     string
	Credential    string
	ItemReference string
	Proof         []byte
}

// Validator accepts submissions.
type Validator struct {
	auth    Authenticator
	catalog Catalog
	ledger  Recorder
	deduper dedupe.Deduper
	now     func() time.Time
}

// Option configures a Validator.
type Option func(*Validator)

// WithDeduper rejects identical submissions seen within the deduper's window.
func WithDeduper(d dedupe.Deduper) Option {
	return func(v *Validator) { v.deduper = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(v *Validator) {
		if now != nil {
			v.now = now
		}
	}
}

// NewValidator wires a Validator.
func NewValidator(auth Authenticator, cat Catalog, ledger Recorder, opts ...Option) *Validator {
	v := &Validator{auth: auth, catalog: cat, ledger: ledger, now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Accept authenticates, looks up the item, fingerprints the proof, then
// credits the account and records the submission exactly once. On any error
// no balance has changed and nothing is recorded.
func (v *Validator) Accept(ctx context.Context, req Request) (model.Submission, error) {
	ok, err := v.auth.Authenticate(ctx, req.AccountID, req.Credential)
	if err != nil {
		return model.Submission{}, fmt.Errorf("authenticate %s: %w", req.AccountID, err)
	}
	if !ok {
		return model.Submission{}, fmt.Errorf("account %s: %w", req.AccountID, model.ErrAuthentication)
	}

	item, err := v.catalog.Lookup(ctx, req.ItemReference)
	if err != nil {
		return model.Submission{}, fmt.Errorf("item %q: %w: %w", req.ItemReference, model.ErrInvalidItem, err)
	}

	if len(req.Proof) == 0 {
		return model.Submission{}, fmt.Errorf("empty proof: %w", model.ErrInvalidArgument)
	}
	digest := Digest(req.Proof)

	units := scoring.Map(item.Score)
	createdAt := v.now().UTC()

	sub := model.Submission{
		ID:            SubmissionID(req.ItemReference, digest, createdAt),
		AccountID:     req.AccountID,
		ItemReference: req.ItemReference,
		ItemName:      item.Name,
		ProofDigest:   digest,
		ExternalScore: item.Score,
		AwardedUnits:  units,
		CreatedAt:     createdAt,
	}

	var key string
	if v.deduper != nil {
		key = dedupe.Key(req.AccountID, req.ItemReference, digest)
		if v.deduper.SeenAndRecord(ctx, key) {
			return model.Submission{}, fmt.Errorf("item %q: %w", req.ItemReference, model.ErrDuplicateSubmission)
		}
	}

	recorded, err := v.ledger.CreditSubmission(ctx, sub)
	if err != nil {
		if v.deduper != nil {
			v.deduper.Unrecord(ctx, key)
		}
		return model.Submission{}, fmt.Errorf("credit %s: %w", req.AccountID, err)
	}
	return recorded, nil
}

// Digest returns the hex SHA-256 of proof.
func Digest(proof []byte) string {
	sum := sha256.Sum256(proof)
	return hex.EncodeToString(sum[:])
}

// SubmissionID derives a submission's identifier.
func SubmissionID(itemReference, proofDigest string, createdAt time.Time) string {
	sum := sha256.Sum256([]byte(itemReference + "|" + proofDigest + "|" + createdAt.UTC().Format(time.RFC3339Nano)))
	return hex.EncodeToString(sum[:])
}
