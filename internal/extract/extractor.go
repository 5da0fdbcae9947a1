// Package extract pulls structured signals out of raw email text: order
// references, money amounts, deadline candidates, address hints, risk keyword
// flags and sentiment word tallies. Everything downstream of it operates on
// these signals rather than on the raw text.
package extract

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mailpilot/triage-engine/internal/core"
)

// Signals is the full output of one extraction pass over an email.
type Signals struct {
	Entities      core.ExtractedEntities
	Risk          core.RiskFlags
	NegativeWords int
	PositiveWords int
	EmotionTags   []string
}

// Order id patterns are tried in order; the first pattern that matches wins
// and the scan stops.
var orderIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`#(\d{4,})`),
	regexp.MustCompile(`(?i)\border\s*(?:number|id|#)?\s*[:#]?\s*(\d{4,})`),
	regexp.MustCompile(`\b([A-Z]{2}\d{5})\b`),
}

var (
	moneySymbolPattern = regexp.MustCompile(`[$£€]\s?(\d+(?:,\d{3})*(?:\.\d{1,2})?)`)
	moneySuffixPattern = regexp.MustCompile(`(?i)\b(\d+(?:\.\d{1,2})?)\s?(?:USD|GBP|EUR|dollars?|pounds?|euros?|quid|bucks)\b`)

	numericDatePattern   = regexp.MustCompile(`\b(\d{1,2})[/\-.](\d{1,2})[/\-.](\d{2,4})\b`)
	monthNameDatePattern = regexp.MustCompile(`(?i)\b(\d{1,2})(?:st|nd|rd|th)?\s+(jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?(?:,?\s+(\d{4}))?`)
	nameMonthDatePattern = regexp.MustCompile(`(?i)\b(jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?\s+(\d{1,2})(?:st|nd|rd|th)?(?:,?\s+(\d{4}))?`)

	streetPattern   = regexp.MustCompile(`(?i)\b\d+[a-z]?\s+\w+\s+(street|st|road|rd|avenue|ave|lane|ln|drive|dr|close|court|crescent|way|place)\b`)
	postcodePattern = regexp.MustCompile(`(?i)\b[A-Z]{1,2}\d[A-Z\d]?\s*\d[A-Z]{2}\b`)

	quotedProductPattern = regexp.MustCompile(`"([^"]{3,60})"`)
)

var monthNumbers = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March,
	"apr": time.April, "may": time.May, "jun": time.June,
	"jul": time.July, "aug": time.August, "sep": time.September,
	"oct": time.October, "nov": time.November, "dec": time.December,
}

// Risk keyword sets. Each flag is an independent case-insensitive substring
// test; once a keyword fires the flag stays set for the pass.
var (
	legalKeywords = []string{
		"legal action", "lawyer", "solicitor", "sue you", "suing",
		"take you to court", "trading standards", "small claims",
	}
	chargebackKeywords = []string{
		"chargeback", "charge back", "dispute the charge", "dispute this charge",
		"payment dispute", "disputed the payment",
	}
	negativeReviewKeywords = []string{
		"negative review", "bad review", "leave a review", "one star",
		"1 star", "trustpilot", "warn others", "tell everyone",
	}
	refundKeywords = []string{
		"refund", "money back", "return my money", "want my money",
	}
)

var negativeWordList = []string{
	"angry", "furious", "terrible", "awful", "disappointed", "unacceptable",
	"worst", "horrible", "frustrated", "annoyed", "useless", "ridiculous",
	"disgusted", "upset", "appalling", "outraged",
}

var positiveWordList = []string{
	"thank", "great", "love", "wonderful", "excellent", "amazing",
	"happy", "pleased", "appreciate", "perfect", "brilliant", "fantastic",
}

// emotionTagWords maps sentiment vocabulary onto the emotion tags the
// priority engine keys off.
var emotionTagWords = map[string][]string{
	"angry":        {"angry", "furious", "outraged", "livid"},
	"frustrated":   {"frustrated", "annoyed", "fed up"},
	"disappointed": {"disappointed", "let down"},
	"upset":        {"upset", "distressed"},
	"concerned":    {"concerned", "worried", "anxious"},
}

// Extract runs a full extraction pass over an email. now anchors year
// inference for dates written without one.
func Extract(email *core.EmailContent, now time.Time) *Signals {
	text := email.Subject + "\n" + email.Body
	lower := strings.ToLower(text)

	sig := &Signals{
		Entities: core.ExtractedEntities{
			OrderID:        extractOrderID(text),
			CustomerName:   strings.TrimSpace(email.FromName),
			Deadlines:      extractDates(text, now),
			MoneyAmounts:   extractMoneyAmounts(text),
			ProductNames:   extractProductNames(text),
			HasAddressInfo: hasAddressHint(text, lower),
		},
		Risk: core.RiskFlags{
			LegalThreat:          containsAny(lower, legalKeywords),
			ChargebackMention:    containsAny(lower, chargebackKeywords),
			NegativeReviewThreat: containsAny(lower, negativeReviewKeywords),
			RefundRequired:       containsAny(lower, refundKeywords),
		},
		NegativeWords: countMatches(lower, negativeWordList),
		PositiveWords: countMatches(lower, positiveWordList),
		EmotionTags:   extractEmotionTags(lower),
	}

	return sig
}

// extractOrderID returns the first order reference found. Patterns are tried
// in declared order and the first successful pattern ends the scan.
func extractOrderID(text string) string {
	for _, pattern := range orderIDPatterns {
		if m := pattern.FindStringSubmatch(text); m != nil {
			return m[1]
		}
	}
	return ""
}

// extractMoneyAmounts returns every currency-marked amount in the text.
func extractMoneyAmounts(text string) []float64 {
	var amounts []float64
	for _, m := range moneySymbolPattern.FindAllStringSubmatch(text, -1) {
		if v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64); err == nil {
			amounts = append(amounts, v)
		}
	}
	for _, m := range moneySuffixPattern.FindAllStringSubmatch(text, -1) {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			amounts = append(amounts, v)
		}
	}
	return amounts
}

// extractDates collects every date mention as a deadline candidate.
func extractDates(text string, now time.Time) []time.Time {
	var dates []time.Time

	for _, m := range numericDatePattern.FindAllStringSubmatch(text, -1) {
		day, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		year, _ := strconv.Atoi(m[3])
		if year < 100 {
			year += 2000
		}
		if d, ok := makeDate(year, time.Month(month), day); ok {
			dates = append(dates, d)
		}
	}

	for _, m := range monthNameDatePattern.FindAllStringSubmatch(text, -1) {
		day, _ := strconv.Atoi(m[1])
		month := monthNumbers[strings.ToLower(m[2])]
		dates = appendNamedDate(dates, day, month, m[3], now)
	}
	for _, m := range nameMonthDatePattern.FindAllStringSubmatch(text, -1) {
		day, _ := strconv.Atoi(m[2])
		month := monthNumbers[strings.ToLower(m[1])]
		dates = appendNamedDate(dates, day, month, m[3], now)
	}

	return dates
}

func appendNamedDate(dates []time.Time, day int, month time.Month, yearStr string, now time.Time) []time.Time {
	year := now.Year()
	if yearStr != "" {
		if y, err := strconv.Atoi(yearStr); err == nil {
			year = y
		}
	}
	d, ok := makeDate(year, month, day)
	if !ok {
		return dates
	}
	// A month-name date with no year that already passed more than a month
	// ago almost certainly means next year.
	if yearStr == "" && d.Before(now.AddDate(0, -1, 0)) {
		d = d.AddDate(1, 0, 0)
	}
	return append(dates, d)
}

func makeDate(year int, month time.Month, day int) (time.Time, bool) {
	if month < time.January || month > time.December || day < 1 || day > 31 {
		return time.Time{}, false
	}
	d := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	// Reject rollovers like 31/02.
	if d.Day() != day || d.Month() != month {
		return time.Time{}, false
	}
	return d, true
}

// hasAddressHint reports whether the text looks like it contains a postal
// address. Only the boolean is kept; the address itself is never stored.
func hasAddressHint(text, lower string) bool {
	return streetPattern.MatchString(text) ||
		postcodePattern.MatchString(text) ||
		strings.Contains(lower, "postcode")
}

func extractProductNames(text string) []string {
	var names []string
	for _, m := range quotedProductPattern.FindAllStringSubmatch(text, -1) {
		if name := strings.TrimSpace(m[1]); name != "" {
			names = append(names, name)
		}
	}
	return names
}

func extractEmotionTags(lower string) []string {
	var tags []string
	for _, tag := range []string{"angry", "frustrated", "disappointed", "upset", "concerned"} {
		if containsAny(lower, emotionTagWords[tag]) {
			tags = append(tags, tag)
		}
	}
	return tags
}

// containsAny reports whether any keyword is a substring of the text.
// Callers pass pre-lowercased text; keywords are declared lowercase.
func containsAny(lower string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// countMatches counts how many distinct keywords appear in the text.
func countMatches(lower string, keywords []string) int {
	n := 0
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			n++
		}
	}
	return n
}

// ContainsAny is the exported form used by the scoring and rules packages for
// their own phrase lists.
func ContainsAny(text string, keywords []string) bool {
	return containsAny(strings.ToLower(text), keywords)
}
