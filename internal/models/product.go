package models

import (
	"time"
)

type Platform string

const (
	PlatformCoupang    Platform = "coupang"
	PlatformNaver      Platform = "naver"
	PlatformElevenst   Platform = "elevenst"
	PlatformGmarket    Platform = "gmarket"
	PlatformAuction    Platform = "auction"
	PlatformAliExpress Platform = "aliexpress"
	PlatformAmazon     Platform = "amazon"
	PlatformShopify    Platform = "shopify"
	PlatformGeneric    Platform = "generic"
)

type ImageType string

const (
	ImageTypeMain    ImageType = "main"
	ImageTypeGallery ImageType = "gallery"
	ImageTypeDetail  ImageType = "detail"
	ImageTypeReview  ImageType = "review"
)

// ResolvedURL is produced once per request by the resolver and never modified afterwards.
type ResolvedURL struct {
	OriginalURL string   `json:"original_url"`
	FinalURL    string   `json:"final_url"`
	Platform    Platform `json:"platform"`
	IsShortURL  bool     `json:"is_short_url"`
	IsErrorPage bool     `json:"is_error_page"`
	ErrorReason string   `json:"error_reason,omitempty"`
	ProductID   string   `json:"product_id,omitempty"`
	StoreName   string   `json:"store_name,omitempty"`
}

type ProductImage struct {
	URL         string    `json:"url"`
	Type        ImageType `json:"type"`
	Width       int       `json:"width,omitempty"`
	Height      int       `json:"height,omitempty"`
	Alt         string    `json:"alt,omitempty"`
	IsValidated bool      `json:"is_validated,omitempty"`
}

// HasDimensions reports whether both width and height are known.
func (i ProductImage) HasDimensions() bool {
	return i.Width > 0 && i.Height > 0
}

type ProductInfo struct {
	Name        string   `json:"name,omitempty"`
	Price       string   `json:"price,omitempty"`
	Description string   `json:"description,omitempty"`
	Options     []string `json:"options,omitempty"`
	Stock       string   `json:"stock,omitempty"`
	Rating      float64  `json:"rating,omitempty"`
	ReviewCount int      `json:"review_count,omitempty"`
}

// IsEmpty reports whether no field was extracted.
func (p *ProductInfo) IsEmpty() bool {
	return p == nil || (p.Name == "" && p.Price == "" && p.Description == "" &&
		len(p.Options) == 0 && p.Stock == "" && p.Rating == 0 && p.ReviewCount == 0)
}

// CollectionResult is the unit returned to callers and stored in the result cache.
// Success implies len(Images) > 0.
type CollectionResult struct {
	Success      bool           `json:"success"`
	Images       []ProductImage `json:"images"`
	ProductInfo  *ProductInfo   `json:"product_info,omitempty"`
	UsedStrategy string         `json:"used_strategy"`
	Timing       int64          `json:"timing"`
	Error        string         `json:"error,omitempty"`
	IsErrorPage  bool           `json:"is_error_page,omitempty"`
	ResolvedURL  string         `json:"resolved_url,omitempty"`
}

const StrategyNone = "none"

func NewFailure(usedStrategy, message string) *CollectionResult {
	return &CollectionResult{
		Success:      false,
		Images:       []ProductImage{},
		UsedStrategy: usedStrategy,
		Error:        message,
	}
}

// Clone returns a deep copy so cached results are never shared with callers.
func (r *CollectionResult) Clone() *CollectionResult {
	if r == nil {
		return nil
	}
	c := *r
	c.Images = append([]ProductImage(nil), r.Images...)
	if c.Images == nil {
		c.Images = []ProductImage{}
	}
	if r.ProductInfo != nil {
		info := *r.ProductInfo
		info.Options = append([]string(nil), r.ProductInfo.Options...)
		c.ProductInfo = &info
	}
	return &c
}

// Options controls a single collection request.
type Options struct {
	Timeout        time.Duration `json:"-"`
	TimeoutMS      int64         `json:"timeout,omitempty"`
	MaxImages      int           `json:"max_images"`
	IncludeDetails bool          `json:"include_details"`
	IncludeReviews bool          `json:"include_reviews"`
	ValidateWithAI bool          `json:"validate_with_ai"`
	UseCache       bool          `json:"use_cache"`
}

const (
	DefaultTimeout   = 30 * time.Second
	DefaultMaxImages = 30
)

func DefaultOptions() *Options {
	return &Options{
		Timeout:        DefaultTimeout,
		MaxImages:      DefaultMaxImages,
		IncludeDetails: true,
		IncludeReviews: false,
		ValidateWithAI: false,
		UseCache:       true,
	}
}

// Merge returns a copy of o with unset numeric fields filled from the defaults.
// A nil receiver yields the defaults.
func (o *Options) Merge() *Options {
	if o == nil {
		o = DefaultOptions()
	}

	merged := *o
	if merged.TimeoutMS > 0 {
		merged.Timeout = time.Duration(merged.TimeoutMS) * time.Millisecond
	}
	if merged.Timeout <= 0 {
		merged.Timeout = DefaultTimeout
	}
	merged.TimeoutMS = merged.Timeout.Milliseconds()
	if merged.MaxImages <= 0 {
		merged.MaxImages = DefaultMaxImages
	}
	return &merged
}
