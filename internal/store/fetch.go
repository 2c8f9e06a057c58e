package store

import (
	"context"
	"log/slog"

	"github.com/roach88/kiln/internal/unit"
)

// FetchAttachments loads the attachments of a batch of units for one
// platform and reports each unit through done, in request order.
//
// Units with no stored attachment are reported with a nil Attachment. If
// the query fails, every unit in the batch is reported with the error; the
// caller treats those units as never built.
func (s *Store) FetchAttachments(ctx context.Context, names []string, platform string, done func(unit.AttachmentResult)) {
	found, err := s.readAttachments(ctx, names, platform)
	if err != nil {
		slog.Warn("attachment batch query failed",
			"platform", platform,
			"units", len(names),
			"error", err)
		for _, name := range names {
			done(unit.AttachmentResult{Name: name, Err: err})
		}
		return
	}

	for _, name := range names {
		done(unit.AttachmentResult{Name: name, Attachment: found[name]})
	}
}
