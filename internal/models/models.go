package models

import (
	"time"
)

// Review is a single workplace review. Pending reviews carry a validation
// token; validating clears it for good.
type Review struct {
	ID                 uint      `gorm:"primarykey" json:"id"`
	CompanyName        string    `gorm:"size:255;not null;index:idx_reviews_company;index:idx_reviews_email_company,priority:2" json:"company_name"`
	Position           string    `gorm:"size:255;not null" json:"position"`
	Duration           string    `gorm:"size:100;not null" json:"duration"`
	Rating             int       `gorm:"not null;check:chk_reviews_rating,rating >= 1 AND rating <= 5" json:"rating"`
	Comment            *string   `gorm:"type:text" json:"comment"`
	Email              string    `gorm:"size:255;not null;index:idx_reviews_email_company,priority:1" json:"email"`
	AuthorName         *string   `gorm:"size:255" json:"author_name"`
	Siret              *string   `gorm:"size:14" json:"siret"`
	CompanyVerified    bool      `gorm:"not null;default:false" json:"company_verified"`
	LinkedInID         *string   `gorm:"column:linkedin_id;size:255" json:"linkedin_id"`
	LinkedInVerified   bool      `gorm:"column:linkedin_verified;not null;default:false" json:"linkedin_verified"`
	LinkedInProfileURL *string   `gorm:"column:linkedin_profile_url;type:text" json:"linkedin_profile_url"`
	ValidationToken    *string   `gorm:"size:255;uniqueIndex" json:"-"`
	IsValidated        bool      `gorm:"not null;default:false;index:idx_reviews_validated" json:"is_validated"`
	AdminReply         *string   `gorm:"type:text" json:"admin_reply"`
	Flagged            bool      `gorm:"not null;default:false;index:idx_reviews_flagged" json:"flagged"`
	CreatedAt          time.Time `gorm:"not null;index:idx_reviews_created" json:"created_at"`
}

// PublicReview is what anonymous visitors get to see.
type PublicReview struct {
	ID                 uint      `json:"id"`
	CompanyName        string    `json:"company_name"`
	Position           string    `json:"position"`
	Duration           string    `json:"duration"`
	Rating             int       `json:"rating"`
	Comment            *string   `json:"comment"`
	CreatedAt          time.Time `json:"created_at"`
	CompanyVerified    bool      `json:"company_verified"`
	LinkedInVerified   bool      `json:"linkedin_verified"`
	LinkedInProfileURL *string   `json:"linkedin_profile_url"`
	AdminReply         *string   `json:"admin_reply"`
	Flagged            bool      `json:"flagged"`
	AuthorName         *string   `json:"author_name"`
}

// Public projects r onto the visitor-facing shape.
func (r *Review) Public() PublicReview {
	return PublicReview{
		ID:                 r.ID,
		CompanyName:        r.CompanyName,
		Position:           r.Position,
		Duration:           r.Duration,
		Rating:             r.Rating,
		Comment:            r.Comment,
		CreatedAt:          r.CreatedAt,
		CompanyVerified:    r.CompanyVerified,
		LinkedInVerified:   r.LinkedInVerified,
		LinkedInProfileURL: r.LinkedInProfileURL,
		AdminReply:         r.AdminReply,
		Flagged:            r.Flagged,
		AuthorName:         r.AuthorName,
	}
}

// Page is one slice of a paginated listing.
type Page[T any] struct {
	Reviews    []T   `json:"reviews"`
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	TotalPages int   `json:"totalPages"`
}

// Statistics aggregates validated reviews only.
type Statistics struct {
	TotalReviews  int64    `json:"total_reviews"`
	AverageRating *float64 `json:"average_rating"`
	Stars5        int64    `json:"stars_5"`
	Stars4        int64    `json:"stars_4"`
	Stars3        int64    `json:"stars_3"`
	Stars2        int64    `json:"stars_2"`
	Stars1        int64    `json:"stars_1"`
	VerifiedCount int64    `json:"verified_count"`
}

// AdminStatistics aggregates every row.
type AdminStatistics struct {
	TotalReviews  int64    `json:"total_reviews"`
	Validated     int64    `json:"validated"`
	Pending       int64    `json:"pending"`
	Flagged       int64    `json:"flagged"`
	AverageRating *float64 `json:"average_rating"`
}
