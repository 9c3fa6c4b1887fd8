package whitelist

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/trunkline/trunkline/internal/database/models"
)

type stubWhitelistRepo struct {
	entries []models.OutboundWhitelistEntry
	err     error
}

func (s *stubWhitelistRepo) ListForTenant(ctx context.Context, tenantID int64) ([]models.OutboundWhitelistEntry, error) {
	return s.entries, s.err
}

func entry(id int64, country, prefix, trunk string) models.OutboundWhitelistEntry {
	return models.OutboundWhitelistEntry{
		ID:                 id,
		TenantID:           1,
		DestinationCountry: country,
		DestinationPrefix:  prefix,
		TrunkName:          trunk,
	}
}

func TestFindTrunk(t *testing.T) {
	tests := []struct {
		name      string
		entries   []models.OutboundWhitelistEntry
		dialed    string
		wantTrunk string
		wantNil   bool
	}{
		{
			name:      "country code match",
			entries:   []models.OutboundWhitelistEntry{entry(1, "IL", "", "tel-aviv")},
			dialed:    "+972501234567",
			wantTrunk: "tel-aviv",
		},
		{
			name:      "raw calling code accepted for country",
			entries:   []models.OutboundWhitelistEntry{entry(1, "972", "", "tel-aviv")},
			dialed:    "+972501234567",
			wantTrunk: "tel-aviv",
		},
		{
			name:      "plus calling code accepted for country",
			entries:   []models.OutboundWhitelistEntry{entry(1, "+972", "", "tel-aviv")},
			dialed:    "+972501234567",
			wantTrunk: "tel-aviv",
		},
		{
			name: "longer prefix outranks country only",
			entries: []models.OutboundWhitelistEntry{
				entry(1, "IL", "", "country-wide"),
				entry(2, "IL", "50", "mobile"),
			},
			dialed:    "+972501234567",
			wantTrunk: "mobile",
		},
		{
			name: "national prefix applies after calling code",
			entries: []models.OutboundWhitelistEntry{
				entry(1, "IL", "50", "mobile"),
			},
			dialed:    "+972501234567",
			wantTrunk: "mobile",
		},
		{
			name: "plus prefix matches full number",
			entries: []models.OutboundWhitelistEntry{
				entry(1, "", "+97250", "mobile"),
			},
			dialed:    "+972501234567",
			wantTrunk: "mobile",
		},
		{
			name: "tie resolves to lowest entry id",
			entries: []models.OutboundWhitelistEntry{
				entry(1, "IL", "", "first"),
				entry(2, "IL", "", "second"),
			},
			dialed:    "+972501234567",
			wantTrunk: "first",
		},
		{
			name: "country mismatch denied",
			entries: []models.OutboundWhitelistEntry{
				entry(1, "GB", "", "london"),
			},
			dialed:  "+972501234567",
			wantNil: true,
		},
		{
			name: "prefix with spaces normalized",
			entries: []models.OutboundWhitelistEntry{
				entry(1, "IL", "5 0", "mobile"),
			},
			dialed:    "+972501234567",
			wantTrunk: "mobile",
		},
		{
			name:    "no entries denies everything",
			entries: nil,
			dialed:  "+14155551212",
			wantNil: true,
		},
		{
			name: "us number matches nanp code",
			entries: []models.OutboundWhitelistEntry{
				entry(1, "US", "", "domestic"),
			},
			dialed:    "+14155551212",
			wantTrunk: "domestic",
		},
		{
			name: "number without plus only matches raw prefixes",
			entries: []models.OutboundWhitelistEntry{
				entry(1, "IL", "", "country-wide"),
				entry(2, "", "0", "local"),
			},
			dialed:    "0501234567",
			wantTrunk: "local",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMatcher(&stubWhitelistRepo{entries: tt.entries}, slog.Default())
			got, err := m.FindTrunk(context.Background(), 1, tt.dialed)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantNil {
				if got != nil {
					t.Fatalf("FindTrunk() = %+v, want nil", got)
				}
				return
			}
			if got == nil {
				t.Fatal("FindTrunk() = nil, want a match")
			}
			if got.TrunkName != tt.wantTrunk {
				t.Errorf("trunk = %q, want %q", got.TrunkName, tt.wantTrunk)
			}
		})
	}
}

func TestFindTrunkRepositoryError(t *testing.T) {
	m := NewMatcher(&stubWhitelistRepo{err: errors.New("db down")}, slog.Default())
	_, err := m.FindTrunk(context.Background(), 1, "+972501234567")
	if err == nil {
		t.Fatal("expected repository error to propagate")
	}
}

func TestLookupCallingCode(t *testing.T) {
	tests := []struct {
		dialed      string
		wantCode    string
		wantCountry string
	}{
		{"+972501234567", "972", "IL"},
		{"+14155551212", "1", "US"},
		{"+442071234567", "44", "GB"},
		{"0501234567", "", ""},
		{"+", "", ""},
	}
	for _, tt := range tests {
		code, country, _ := lookupCallingCode(tt.dialed)
		if code != tt.wantCode || country != tt.wantCountry {
			t.Errorf("lookupCallingCode(%q) = (%q, %q), want (%q, %q)",
				tt.dialed, code, country, tt.wantCode, tt.wantCountry)
		}
	}
}
