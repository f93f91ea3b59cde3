package contacts

import (
	"strings"
	"testing"
)

func brazilValidator(lax bool) *PhoneValidator {
	return NewPhoneValidator(DefaultValidatorConfig("BR", []string{"BR"}, lax))
}

func TestValidateBrazilianNumbers(t *testing.T) {
	v := brazilValidator(true)
	tests := []struct {
		raw       string
		formatted string
	}{
		{"+55 11 98765-4321", "+5511987654321"},
		{"(21) 99876-5432", "+5521998765432"},
		{"5511976543210", "+5511976543210"},
		{"11.98765.4321", "+5511987654321"},
		{"0055 11 98765 4321", "+5511987654321"},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			rec := v.Validate(tt.raw)
			if !rec.Valid {
				t.Fatalf("expected %q to validate: %s", tt.raw, rec.Error)
			}
			if rec.Formatted != tt.formatted {
				t.Fatalf("expected %s, got %s", tt.formatted, rec.Formatted)
			}
			if rec.CountryCode != "BR" || rec.Tier != TierStrict {
				t.Fatalf("expected strict BR record, got %+v", rec)
			}
			if rec.Raw != tt.raw || rec.Error != "" {
				t.Fatalf("unexpected raw or error: %+v", rec)
			}
		})
	}
}

func TestValidateRepairsLegacyMobile(t *testing.T) {
	v := brazilValidator(false)
	tests := []struct {
		raw       string
		formatted string
	}{
		{"31 8877-6655", "+5531988776655"},
		{"(11) 8765-4321", "+5511987654321"},
		{"+55 21 7654-3210", "+5521976543210"},
		{"5548 9123-4567", "+5548991234567"},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			rec := v.Validate(tt.raw)
			if !rec.Valid {
				t.Fatalf("expected repaired %q to validate: %s", tt.raw, rec.Error)
			}
			if rec.Formatted != tt.formatted || rec.Tier != TierStrict {
				t.Fatalf("expected strict %s, got %s (%v)", tt.formatted, rec.Formatted, rec.Tier)
			}
		})
	}
}

func TestValidateLeavesLandlinesAlone(t *testing.T) {
	rec := brazilValidator(false).Validate("(11) 3456-7890")
	if !rec.Valid {
		t.Fatalf("expected landline to validate: %s", rec.Error)
	}
	if rec.Formatted != "+551134567890" {
		t.Fatalf("landline was rewritten: %s", rec.Formatted)
	}
}

func TestValidateNoRepairOutsideLegacyRegions(t *testing.T) {
	rec := NewPhoneValidator(ValidatorConfig{DefaultRegion: "BR"}).Validate("31 8877-6655")
	if rec.Valid || rec.Error != invalidFormat {
		t.Fatalf("expected invalid format, got %+v", rec)
	}
}

func TestValidatePlausibleTierIsConfigurable(t *testing.T) {
	raw := "+55 10 23456789"

	lax := brazilValidator(true).Validate(raw)
	if !lax.Valid || lax.Tier != TierPlausible {
		t.Fatalf("expected plausible record in lax mode, got %+v", lax)
	}
	if lax.Formatted != "+551023456789" || lax.CountryCode != "BR" {
		t.Fatalf("unexpected lax record: %+v", lax)
	}

	strict := brazilValidator(false).Validate(raw)
	if strict.Valid || strict.Tier != TierNone || strict.Error != invalidFormat {
		t.Fatalf("expected strict mode to reject, got %+v", strict)
	}
}

func TestValidateParseErrorKeepsReason(t *testing.T) {
	rec := brazilValidator(true).Validate("invalid-phone")
	if rec.Valid {
		t.Fatal("expected invalid record")
	}
	if rec.Raw != "invalid-phone" || rec.Formatted != "invalid-phone" {
		t.Fatalf("expected raw input echoed, got %+v", rec)
	}
	if !strings.Contains(rec.Error, "Parse error: ") {
		t.Fatalf("expected parse error reason, got %q", rec.Error)
	}
	if rec.CountryCode != "" {
		t.Fatalf("expected no country, got %q", rec.CountryCode)
	}
}

func TestValidateOtherDefaultRegion(t *testing.T) {
	rec := NewPhoneValidator(DefaultValidatorConfig("US", nil, true)).Validate("(201) 555-0123")
	if !rec.Valid {
		t.Fatalf("expected US number to validate: %s", rec.Error)
	}
	if rec.Formatted != "+12015550123" || rec.CountryCode != "US" {
		t.Fatalf("unexpected record: %+v", rec)
	}
}
