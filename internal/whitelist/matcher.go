// Package whitelist authorizes outbound destinations and selects the
// trunk to carry them. Entries match by country or calling code and are
// refined by destination prefixes; the most specific entry wins.
package whitelist

import (
	"context"
	"log/slog"
	"strings"

	"github.com/trunkline/trunkline/internal/database"
	"github.com/trunkline/trunkline/internal/database/models"
)

// countryMatchScore is awarded when an entry's destination country
// matches the dialed number's country or calling code. Prefix length is
// added on top, so a longer prefix always outranks a shorter one among
// country-matched entries.
const countryMatchScore = 10

// Matcher finds the authorized outbound trunk for a dialed number.
type Matcher struct {
	entries database.WhitelistRepository
	logger  *slog.Logger
}

// NewMatcher creates a new Matcher.
func NewMatcher(entries database.WhitelistRepository, logger *slog.Logger) *Matcher {
	return &Matcher{
		entries: entries,
		logger:  logger.With("subsystem", "whitelist"),
	}
}

// FindTrunk returns the tenant's highest-scoring whitelist entry for
// the dialed number, or nil when no entry authorizes it. Ties resolve
// to the lowest entry ID.
func (m *Matcher) FindTrunk(ctx context.Context, tenantID int64, dialedNumber string) (*models.OutboundWhitelistEntry, error) {
	entries, err := m.entries.ListForTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}

	code, country, _ := lookupCallingCode(dialedNumber)

	var best *models.OutboundWhitelistEntry
	bestScore := 0
	for i := range entries {
		score := scoreEntry(&entries[i], dialedNumber, code, country)
		if score > bestScore {
			best = &entries[i]
			bestScore = score
		}
	}

	if best == nil {
		m.logger.Info("no whitelist entry matched",
			"tenant_id", tenantID,
			"dialed", dialedNumber,
		)
		return nil, nil
	}

	m.logger.Debug("whitelist entry selected",
		"tenant_id", tenantID,
		"dialed", dialedNumber,
		"entry_id", best.ID,
		"trunk", best.TrunkName,
		"score", bestScore,
	)
	return best, nil
}

// scoreEntry computes an entry's match score for the dialed number.
// Country or calling-code equality is worth countryMatchScore; a
// matching destination prefix adds its character length. Zero means no
// match.
func scoreEntry(e *models.OutboundWhitelistEntry, dialed, code, country string) int {
	score := 0
	countryMatched := false

	// destination_country holds either an ISO code or a raw calling
	// code, with or without the leading +. Both spellings are accepted.
	dest := strings.TrimSpace(e.DestinationCountry)
	switch {
	case country != "" && strings.EqualFold(dest, country):
		countryMatched = true
	case code != "" && (dest == code || dest == "+"+code):
		countryMatched = true
	}
	if countryMatched {
		score += countryMatchScore
	}

	prefix := strings.ReplaceAll(e.DestinationPrefix, " ", "")
	if prefix != "" {
		// A prefix with + matches the full number; otherwise it
		// matches the national remainder after the calling code for
		// country-matched entries, or the raw number as dialed.
		subject := dialed
		if !strings.HasPrefix(prefix, "+") && countryMatched && code != "" {
			subject = strings.TrimPrefix(strings.TrimPrefix(dialed, "+"), code)
		}
		if strings.HasPrefix(subject, prefix) {
			score += len(prefix)
		}
	}

	return score
}
