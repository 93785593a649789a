package reviews

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

var (
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	siretPattern = regexp.MustCompile(`^\d{14}$`)
)

// Rating accepts both 4 and "4" on the wire. Anything that is not an integer
// decodes to -1 so validation reports it instead of the JSON decoder.
type Rating int

func (r *Rating) UnmarshalJSON(b []byte) error {
	var raw any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	switch v := raw.(type) {
	case nil:
		*r = 0
	case float64:
		*r = integralRating(v)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			*r = -1
			return nil
		}
		*r = integralRating(f)
	default:
		*r = -1
	}
	return nil
}

func integralRating(f float64) Rating {
	if f != math.Trunc(f) || math.IsInf(f, 0) || f > math.MaxInt32 || f < math.MinInt32 {
		return -1
	}
	return Rating(f)
}

// ReviewInput is a visitor submission as received.
type ReviewInput struct {
	CompanyName    string `json:"company_name"`
	Position       string `json:"position"`
	Duration       string `json:"duration"`
	Rating         Rating `json:"rating"`
	Comment        string `json:"comment"`
	Email          string `json:"email"`
	Siret          string `json:"siret"`
	LinkedInTicket string `json:"linkedin_ticket"`
}

// ValidateReview returns every violated rule; an empty slice means valid.
func ValidateReview(in ReviewInput) []string {
	errs := make([]string, 0)

	errs = requiredText(errs, "company_name", in.CompanyName, 255)
	errs = requiredText(errs, "position", in.Position, 255)
	errs = requiredText(errs, "duration", in.Duration, 100)

	if in.Rating < 1 || in.Rating > 5 {
		errs = append(errs, "rating must be an integer between 1 and 5")
	}

	if !emailPattern.MatchString(in.Email) {
		errs = append(errs, "A valid email is required")
	} else if utf8.RuneCountInString(in.Email) > 255 {
		errs = append(errs, "email must be at most 255 characters")
	}

	if utf8.RuneCountInString(in.Comment) > 5000 {
		errs = append(errs, "comment must be at most 5000 characters")
	}

	if in.Siret != "" && !siretPattern.MatchString(in.Siret) {
		errs = append(errs, "siret must be exactly 14 digits")
	}

	return errs
}

// ValidateAdminReply checks a moderator reply.
func ValidateAdminReply(reply string) []string {
	return requiredText(make([]string, 0), "reply", reply, 2000)
}

// IsSiret reports whether s is exactly 14 digits.
func IsSiret(s string) bool {
	return siretPattern.MatchString(s)
}

func requiredText(errs []string, field, value string, maxLen int) []string {
	if strings.TrimSpace(value) == "" {
		return append(errs, field+" is required")
	}
	if utf8.RuneCountInString(value) > maxLen {
		return append(errs, field+" must be at most "+strconv.Itoa(maxLen)+" characters")
	}
	return errs
}
