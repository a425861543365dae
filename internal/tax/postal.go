package tax

import (
	"regexp"
	"strings"
)

var postalPatterns = map[string]*regexp.Regexp{
	"US": regexp.MustCompile(`^\d{5}([ \-]\d{4})?$`),
	"CA": regexp.MustCompile(`^[ABCEGHJKLMNPRSTVXY]\d[ABCEGHJ-NPRSTV-Z][ ]?\d[ABCEGHJ-NPRSTV-Z]\d$`),
	"UK": regexp.MustCompile(`^GIR[ ]?0AA|((AB|AL|B|BA|BB|BD|BH|BL|BN|BR|BS|BT|CA|CB|CF|CH|CM|CO|CR|CT|CV|CW|DA|DD|DE|DG|DH|DL|DN|DT|DY|E|EC|EH|EN|EX|FK|FY|G|GL|GY|GU|HA|HD|HG|HP|HR|HS|HU|HX|IG|IM|IP|IV|JE|KA|KT|KW|KY|L|LA|LD|LE|LL|LN|LS|LU|M|ME|MK|ML|N|NE|NG|NN|NP|NR|NW|OL|OX|PA|PE|PH|PL|PO|PR|RG|RH|RM|S|SA|SE|SG|SK|SL|SM|SN|SO|SP|SR|SS|ST|SW|SY|TA|TD|TF|TN|TQ|TR|TS|TW|UB|W|WA|WC|WD|WF|WN|WR|WS|WV|YO|ZE)(\d[\dA-Z]?[ ]?\d[ABD-HJLN-UW-Z]{2}))|BFPO[ ]?\d{1,4}$`),
	"FR": regexp.MustCompile(`^\d{2}[ ]?\d{3}$`),
	"IT": regexp.MustCompile(`^\d{5}$`),
	"DE": regexp.MustCompile(`^\d{5}$`),
	"NL": regexp.MustCompile(`^\d{4}[ ]?[A-Z]{2}$`),
	"ES": regexp.MustCompile(`^\d{5}$`),
	"DK": regexp.MustCompile(`^\d{4}$`),
	"SE": regexp.MustCompile(`^\d{3}[ ]?\d{2}$`),
	"BE": regexp.MustCompile(`^\d{4}$`),
	"IN": regexp.MustCompile(`^\d{6}$`),
	"AU": regexp.MustCompile(`^\d{4}$`),
}

// ValidPostalCode reports whether postal is plausible for country. Empty
// codes are only rejected for the US; unknown countries always pass.
func ValidPostalCode(country, _, postal string) bool {
	pattern, ok := postalPatterns[strings.ToUpper(strings.TrimSpace(country))]
	if !ok {
		return true
	}
	if postal == "" {
		return !strings.EqualFold(strings.TrimSpace(country), "US")
	}
	return pattern.MatchString(postal)
}
