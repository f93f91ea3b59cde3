package contacts

import (
	"strconv"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// Tier records how a number was accepted.
type Tier string

const (
	TierNone      Tier = ""
	TierStrict    Tier = "strict"
	TierPlausible Tier = "plausible"
)

// invalidFormat is reported when a number parses but fails both validation tiers.
const invalidFormat = "Invalid phone number format"

// PhoneRecord is one normalized recipient. Records are never re-validated once built.
type PhoneRecord struct {
	Raw         string `json:"raw"`
	Formatted   string `json:"formatted"`
	CountryCode string `json:"country_code,omitempty"`
	Valid       bool   `json:"is_valid"`
	Error       string `json:"error_message,omitempty"`
	Tier        Tier   `json:"tier,omitempty"`
}

// RegionPolicy describes how a legacy-tolerant region is treated.
type RegionPolicy struct {
	// LegacyRepair inserts the mobile digit into 8-digit local mobile numbers.
	LegacyRepair bool
	// LaxPossible accepts numbers that are possible but not strictly valid.
	LaxPossible bool
	// MobileDigit is inserted ahead of the subscriber number.
	MobileDigit string
	// MobileAreaCodes restricts the repair to area codes with mobile service.
	MobileAreaCodes map[string]struct{}
	// MobileLeadDigits are the first subscriber digits that identify a legacy mobile.
	MobileLeadDigits string
}

// ValidatorConfig configures a PhoneValidator.
type ValidatorConfig struct {
	DefaultRegion string
	Regions       map[string]RegionPolicy
}

// brazilMobileAreaCodes lists every DDD with mobile service.
var brazilMobileAreaCodes = []string{
	"11", "12", "13", "14", "15", "16", "17", "18", "19",
	"21", "22", "24", "27", "28",
	"31", "32", "33", "34", "35", "37", "38",
	"41", "42", "43", "44", "45", "46", "47", "48", "49",
	"51", "53", "54", "55",
	"61", "62", "63", "64", "65", "66", "67", "68", "69",
	"71", "73", "74", "75", "77", "79",
	"81", "82", "83", "84", "85", "86", "87", "88", "89",
	"91", "92", "93", "94", "95", "96", "97", "98", "99",
}

// BrazilPolicy returns the legacy-tolerant policy for BR.
func BrazilPolicy(lax bool) RegionPolicy {
	codes := make(map[string]struct{}, len(brazilMobileAreaCodes))
	for _, code := range brazilMobileAreaCodes {
		codes[code] = struct{}{}
	}
	return RegionPolicy{
		LegacyRepair:     true,
		LaxPossible:      lax,
		MobileDigit:      "9",
		MobileAreaCodes:  codes,
		MobileLeadDigits: "6789",
	}
}

// DefaultValidatorConfig builds the config from the region settings loaded at startup.
// Regions listed in legacyTolerant get a policy; only BR has a repair rule.
func DefaultValidatorConfig(defaultRegion string, legacyTolerant []string, lax bool) ValidatorConfig {
	cfg := ValidatorConfig{
		DefaultRegion: strings.ToUpper(strings.TrimSpace(defaultRegion)),
		Regions:       make(map[string]RegionPolicy),
	}
	if cfg.DefaultRegion == "" {
		cfg.DefaultRegion = "BR"
	}
	for _, region := range legacyTolerant {
		region = strings.ToUpper(strings.TrimSpace(region))
		if region == "BR" {
			cfg.Regions[region] = BrazilPolicy(lax)
			continue
		}
		if region != "" {
			cfg.Regions[region] = RegionPolicy{LaxPossible: lax}
		}
	}
	return cfg
}

// PhoneValidator validates and formats raw phone strings.
type PhoneValidator struct {
	cfg ValidatorConfig
}

// NewPhoneValidator returns a validator for cfg.
func NewPhoneValidator(cfg ValidatorConfig) *PhoneValidator {
	if cfg.DefaultRegion == "" {
		cfg.DefaultRegion = "BR"
	}
	if cfg.Regions == nil {
		cfg.Regions = map[string]RegionPolicy{}
	}
	return &PhoneValidator{cfg: cfg}
}

// Validate normalizes a single raw phone string into a PhoneRecord.
func (v *PhoneValidator) Validate(raw string) PhoneRecord {
	region := v.cfg.DefaultRegion
	policy, tolerant := v.cfg.Regions[region]

	cleaned := v.clean(raw, region)
	if tolerant && policy.LegacyRepair {
		cleaned = v.repairLegacyMobile(cleaned, region, policy)
	}

	num, err := phonenumbers.Parse(cleaned, region)
	if err != nil {
		return PhoneRecord{
			Raw:       raw,
			Formatted: raw,
			Error:     "Parse error: " + err.Error(),
		}
	}

	tier := TierNone
	switch {
	case phonenumbers.IsValidNumber(num):
		tier = TierStrict
	case tolerant && policy.LaxPossible && phonenumbers.IsPossibleNumber(num):
		tier = TierPlausible
	}
	if tier == TierNone {
		return PhoneRecord{
			Raw:       raw,
			Formatted: cleaned,
			Error:     invalidFormat,
		}
	}

	country := phonenumbers.GetRegionCodeForNumber(num)
	if country == "" || country == "ZZ" {
		country = phonenumbers.GetRegionCodeForCountryCode(int(num.GetCountryCode()))
	}
	if country == "ZZ" {
		country = ""
	}
	return PhoneRecord{
		Raw:         raw,
		Formatted:   phonenumbers.Format(num, phonenumbers.E164),
		CountryCode: country,
		Valid:       true,
		Tier:        tier,
	}
}

// clean strips separators and adds a leading + when the digits already carry
// the default region's calling code.
func (v *PhoneValidator) clean(raw, region string) string {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.NewReplacer(" ", "", "\u00a0", "", "-", "", "(", "", ")", "", ".", "", "/", "", "\t", "").Replace(cleaned)
	if cleaned == "" || strings.HasPrefix(cleaned, "+") {
		return cleaned
	}
	if strings.HasPrefix(cleaned, "00") {
		return "+" + cleaned[2:]
	}
	cc := countryCallingCode(region)
	if cc != "" && strings.HasPrefix(cleaned, cc) && len(cleaned)-len(cc) >= 10 && isDigits(cleaned) {
		return "+" + cleaned
	}
	return cleaned
}

// repairLegacyMobile inserts the mobile digit when the national number is an
// area code plus an 8-digit subscriber that starts like a mobile line.
func (v *PhoneValidator) repairLegacyMobile(cleaned, region string, policy RegionPolicy) string {
	cc := countryCallingCode(region)
	if cc == "" {
		return cleaned
	}
	national := strings.TrimPrefix(cleaned, "+")
	international := strings.HasPrefix(cleaned, "+")
	if international {
		if !strings.HasPrefix(national, cc) {
			return cleaned
		}
		national = national[len(cc):]
	}
	national = strings.TrimPrefix(national, "0")
	if len(national) != 10 || !isDigits(national) {
		return cleaned
	}
	area, subscriber := national[:2], national[2:]
	if _, ok := policy.MobileAreaCodes[area]; !ok {
		return cleaned
	}
	if !strings.ContainsRune(policy.MobileLeadDigits, rune(subscriber[0])) {
		return cleaned
	}
	return "+" + cc + area + policy.MobileDigit + subscriber
}

func countryCallingCode(region string) string {
	code := phonenumbers.GetCountryCodeForRegion(region)
	if code == 0 {
		return ""
	}
	return strconv.Itoa(code)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
