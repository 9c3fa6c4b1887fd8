package whitelist

import "strings"

// callingCodes maps E.164 calling codes (without the leading +) to
// ISO-3166 alpha-2 country codes. Shared codes (+1, +7, +44) map to
// their primary territory; whitelist entries that need a specific
// shared-code territory should use a destination prefix instead.
var callingCodes = map[string]string{
	"1":   "US",
	"7":   "RU",
	"20":  "EG",
	"27":  "ZA",
	"30":  "GR",
	"31":  "NL",
	"32":  "BE",
	"33":  "FR",
	"34":  "ES",
	"36":  "HU",
	"39":  "IT",
	"40":  "RO",
	"41":  "CH",
	"43":  "AT",
	"44":  "GB",
	"45":  "DK",
	"46":  "SE",
	"47":  "NO",
	"48":  "PL",
	"49":  "DE",
	"52":  "MX",
	"54":  "AR",
	"55":  "BR",
	"56":  "CL",
	"57":  "CO",
	"58":  "VE",
	"60":  "MY",
	"61":  "AU",
	"62":  "ID",
	"63":  "PH",
	"64":  "NZ",
	"65":  "SG",
	"66":  "TH",
	"81":  "JP",
	"82":  "KR",
	"84":  "VN",
	"86":  "CN",
	"90":  "TR",
	"91":  "IN",
	"92":  "PK",
	"93":  "AF",
	"94":  "LK",
	"95":  "MM",
	"98":  "IR",
	"212": "MA",
	"213": "DZ",
	"216": "TN",
	"218": "LY",
	"220": "GM",
	"233": "GH",
	"234": "NG",
	"254": "KE",
	"255": "TZ",
	"256": "UG",
	"260": "ZM",
	"263": "ZW",
	"351": "PT",
	"352": "LU",
	"353": "IE",
	"354": "IS",
	"358": "FI",
	"359": "BG",
	"370": "LT",
	"371": "LV",
	"372": "EE",
	"380": "UA",
	"381": "RS",
	"385": "HR",
	"386": "SI",
	"420": "CZ",
	"421": "SK",
	"852": "HK",
	"853": "MO",
	"880": "BD",
	"886": "TW",
	"960": "MV",
	"961": "LB",
	"962": "JO",
	"963": "SY",
	"964": "IQ",
	"965": "KW",
	"966": "SA",
	"967": "YE",
	"968": "OM",
	"970": "PS",
	"971": "AE",
	"972": "IL",
	"973": "BH",
	"974": "QA",
	"975": "BT",
	"976": "MN",
	"977": "NP",
	"992": "TJ",
	"993": "TM",
	"994": "AZ",
	"995": "GE",
	"996": "KG",
	"998": "UZ",
}

// maxCallingCodeLen bounds the longest-prefix search.
const maxCallingCodeLen = 3

// lookupCallingCode extracts the longest recognized calling code from
// an international number and returns the code (without +) and its ISO
// country. ok is false when no code is recognized or the number is not
// in international format.
func lookupCallingCode(number string) (code, country string, ok bool) {
	digits := strings.TrimPrefix(number, "+")
	if digits == number {
		// Not international; no calling code to extract.
		return "", "", false
	}

	limit := maxCallingCodeLen
	if len(digits) < limit {
		limit = len(digits)
	}
	for n := limit; n >= 1; n-- {
		if country, found := callingCodes[digits[:n]]; found {
			return digits[:n], country, true
		}
	}
	return "", "", false
}
