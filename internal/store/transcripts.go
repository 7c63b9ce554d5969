package store

import (
	"context"
	"fmt"

	"github.com/MikeSquared-Agency/quill/internal/speaker"
)

// WriteUtterance inserts one segmented utterance. Utterances are immutable;
// re-ingesting a transcript replaces nothing.
func (s *Store) WriteUtterance(ctx context.Context, u speaker.Utterance) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO utterances (id, transcript_id, position, raw_text, cleaned_text)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING`,
		u.ID, u.TranscriptID, u.Position, u.RawText, u.CleanedText,
	)
	if err != nil {
		return fmt.Errorf("insert utterance: %w", err)
	}
	return nil
}

// WriteRoleLabel upserts the current role verdict for an utterance.
func (s *Store) WriteRoleLabel(ctx context.Context, l speaker.RoleLabel) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO role_labels (utterance_id, role, confidence, correction_applied, correction_reason)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (utterance_id) DO UPDATE
		SET role = $2, confidence = $3, correction_applied = $4, correction_reason = $5`,
		l.UtteranceID, string(l.Role), l.Confidence, l.CorrectionApplied, l.CorrectionReason,
	)
	if err != nil {
		return fmt.Errorf("upsert role label: %w", err)
	}
	return nil
}

// WriteCorrection appends one correction record to the audit log.
func (s *Store) WriteCorrection(ctx context.Context, transcriptID string, c speaker.Correction) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO role_corrections (utterance_id, transcript_id, from_role, to_role, reason, confidence, corrected_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())`,
		c.UtteranceID, transcriptID, string(c.From), string(c.To), c.Reason, c.Confidence,
	)
	if err != nil {
		return fmt.Errorf("insert correction: %w", err)
	}
	return nil
}

// WriteContextLink stores the interviewer context attached to a subject
// utterance.
func (s *Store) WriteContextLink(ctx context.Context, link speaker.ContextLink) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO context_links (subject_utterance_id, interviewer_ids)
		VALUES ($1, $2)
		ON CONFLICT (subject_utterance_id) DO UPDATE SET interviewer_ids = $2`,
		link.SubjectUtteranceID, link.InterviewerIDs,
	)
	if err != nil {
		return fmt.Errorf("upsert context link: %w", err)
	}
	return nil
}

// ListCorrections returns the correction log for a transcript, oldest first.
func (s *Store) ListCorrections(ctx context.Context, transcriptID string) ([]speaker.Correction, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT utterance_id, from_role, to_role, reason, confidence
		FROM role_corrections WHERE transcript_id = $1 ORDER BY corrected_at`,
		transcriptID,
	)
	if err != nil {
		return nil, fmt.Errorf("list corrections: %w", err)
	}
	defer rows.Close()

	var out []speaker.Correction
	for rows.Next() {
		var c speaker.Correction
		var from, to string
		if err := rows.Scan(&c.UtteranceID, &from, &to, &c.Reason, &c.Confidence); err != nil {
			return nil, fmt.Errorf("scan correction: %w", err)
		}
		c.From, c.To = speaker.Role(from), speaker.Role(to)
		out = append(out, c)
	}
	return out, rows.Err()
}
