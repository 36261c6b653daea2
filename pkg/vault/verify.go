package vault

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/dyluth/sevai/internal/logging"
)

// Problem classifies a chain defect.
type Problem string

const (
	// ProblemHashMismatch means a record's content no longer matches its hash.
	ProblemHashMismatch Problem = "hash_mismatch"
	// ProblemBrokenLink means prev_hash does not match the preceding record.
	ProblemBrokenLink Problem = "broken_link"
	// ProblemGap means ids are missing between two records.
	ProblemGap Problem = "gap"
	// ProblemTruncated means the chain head points past the last record.
	ProblemTruncated Problem = "truncated"
)

// Issue is one defect found by Verify.
type Issue struct {
	ID      int64   `json:"id"`
	Problem Problem `json:"problem"`
	Detail  string  `json:"detail"`
}

// VerifyReport is the integrity status of one chain.
type VerifyReport struct {
	Kind    Kind    `json:"kind"`
	Records int     `json:"records"`
	Valid   bool    `json:"valid"`
	Issues  []Issue `json:"issues"`
}

// Verify recomputes every hash in one chain and checks each link.
func (v *Vault) Verify(ctx context.Context, kind Kind) (*VerifyReport, error) {
	ctx, span := v.tracer.Start(ctx, "vault.verify", trace.WithAttributes(
		attribute.String("vault.kind", string(kind)),
	))
	defer span.End()

	r := &VerifyReport{Kind: kind, Issues: []Issue{}}
	var prev *Entry

	err := v.store.Scan(ctx, kind, func(e Entry) error {
		r.Records++

		// 1. Content against its own hash
		if got, err := ComputeHash(e); err != nil {
			r.add(e.ID, ProblemHashMismatch, err.Error())
		} else if got != e.Hash {
			r.add(e.ID, ProblemHashMismatch, fmt.Sprintf("stored %s, computed %s", short(e.Hash), short(got)))
		}

		// 2. Link and sequence against the previous record
		expectID, expectPrev := int64(1), ""
		if prev != nil {
			expectID, expectPrev = prev.ID+1, prev.Hash
		}
		if e.ID != expectID {
			r.add(e.ID, ProblemGap, fmt.Sprintf("expected id %d", expectID))
		}
		if e.PrevHash != expectPrev {
			r.add(e.ID, ProblemBrokenLink, fmt.Sprintf("prev_hash %s does not match %s", short(e.PrevHash), short(expectPrev)))
		}

		cur := e
		prev = &cur
		return nil
	})
	if err != nil {
		return nil, asStorage("scan", kind, err)
	}

	// 3. Tail against the recorded head
	head, err := v.store.Head(ctx, kind)
	if err != nil {
		return nil, asStorage("head", kind, err)
	}
	var lastID int64
	var lastHash string
	if prev != nil {
		lastID, lastHash = prev.ID, prev.Hash
	}
	if head.LastID != lastID || head.LastHash != lastHash {
		r.add(head.LastID, ProblemTruncated, fmt.Sprintf("head is %d but last record is %d", head.LastID, lastID))
	}

	r.Valid = len(r.Issues) == 0
	span.SetAttributes(attribute.Bool("vault.valid", r.Valid), attribute.Int("vault.records", r.Records))
	v.audit.Event(logging.AuditVaultVerify,
		zap.String("kind", string(kind)),
		zap.Int("records", r.Records),
		zap.Bool("valid", r.Valid),
		zap.Int("issues", len(r.Issues)))
	if !r.Valid {
		v.logger.Warn("Chain integrity check failed", zap.String("kind", string(kind)), zap.Int("issues", len(r.Issues)))
	}
	return r, nil
}

// VerifyAll verifies every chain in Kinds order.
func (v *Vault) VerifyAll(ctx context.Context) ([]*VerifyReport, error) {
	reports := make([]*VerifyReport, 0, len(Kinds))
	for _, k := range Kinds {
		r, err := v.Verify(ctx, k)
		if err != nil {
			return nil, err
		}
		reports = append(reports, r)
	}
	return reports, nil
}

func (r *VerifyReport) add(id int64, p Problem, detail string) {
	r.Issues = append(r.Issues, Issue{ID: id, Problem: p, Detail: detail})
}
