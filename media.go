package hearth

import (
	"fmt"
	"strings"
	"time"
)

// OwnerKind identifies the kind of record that owns a set of images.
type OwnerKind string

const (
	OwnerUnit    OwnerKind = "unit"
	OwnerSubUnit OwnerKind = "subunit"
	OwnerOffer   OwnerKind = "offer"
)

// OwnerKinds lists every kind that may own images.
var OwnerKinds = []OwnerKind{OwnerUnit, OwnerSubUnit, OwnerOffer}

// ParseOwnerKind validates s as an owner kind.
func ParseOwnerKind(s string) (OwnerKind, error) {
	for _, k := range OwnerKinds {
		if string(k) == strings.ToLower(s) {
			return k, nil
		}
	}
	return "", Invalid("unknown owner kind %q", s)
}

// Stage is the lifecycle stage of a stored asset.
type Stage string

const (
	// StageStaging assets are keyed under a request token and have no
	// persisted owner yet.
	StageStaging Stage = "staging"

	// StagePermanent assets are keyed under their finalized owner.
	StagePermanent Stage = "permanent"
)

// Owner identifies who an asset belongs to. For staged assets ID is the
// request token and Kind is the kind the owner will have once approved.
type Owner struct {
	Kind OwnerKind `json:"kind"`
	ID   string    `json:"id"`
}

func (o Owner) String() string {
	return fmt.Sprintf("%s/%s", o.Kind, o.ID)
}

// Rendition is a resized derivative of an original, addressed by suffixing
// the original's key with Name.
type Rendition struct {
	Name   string `json:"name"`
	MaxDim int    `json:"maxDim"`
}

// Standard renditions.
var (
	Thumbnail = Rendition{Name: "thumbnail", MaxDim: 150}
	Small     = Rendition{Name: "small", MaxDim: 320}
	Medium    = Rendition{Name: "medium", MaxDim: 640}
	Large     = Rendition{Name: "large", MaxDim: 1280}
)

// Policy holds the per-owner-kind bounds of an upload batch and the
// renditions derived for each asset.
type Policy struct {
	MinCount   int
	MaxCount   int
	MaxBytes   int64
	Extensions []string
	Renditions []Rendition
}

// MaxUploadSize is the default per-asset cap (10MB).
const MaxUploadSize = 10 * 1024 * 1024

// AcceptedImageExtensions are the lower-case extensions accepted for upload.
var AcceptedImageExtensions = []string{".jpg", ".jpeg", ".png", ".webp"}

// DefaultPolicies returns the built-in policy for every owner kind.
func DefaultPolicies() map[OwnerKind]Policy {
	return map[OwnerKind]Policy{
		OwnerUnit: {
			MinCount:   1,
			MaxCount:   20,
			MaxBytes:   MaxUploadSize,
			Extensions: AcceptedImageExtensions,
			Renditions: []Rendition{Thumbnail, Small, Medium, Large},
		},
		OwnerSubUnit: {
			MinCount:   1,
			MaxCount:   20,
			MaxBytes:   MaxUploadSize,
			Extensions: AcceptedImageExtensions,
			Renditions: []Rendition{Thumbnail, Medium},
		},
		OwnerOffer: {
			MinCount:   1,
			MaxCount:   10,
			MaxBytes:   MaxUploadSize,
			Extensions: AcceptedImageExtensions,
		},
	}
}

// Upload is one candidate asset of a batch.
type Upload struct {
	Filename string
	Data     []byte

	// Size is the size declared by the client. Zero means len(Data).
	Size int64
}

// DeclaredSize returns Size, falling back to the length of Data.
func (u Upload) DeclaredSize() int64 {
	if u.Size > 0 {
		return u.Size
	}
	return int64(len(u.Data))
}

// Visibility controls whether a stored object is publicly readable.
type Visibility int

const (
	Private Visibility = iota
	Public
)

func (v Visibility) String() string {
	if v == Public {
		return "public"
	}
	return "private"
}

// PromotionResult is the outcome of promoting one staged key.
type PromotionResult struct {
	StagingKey   string `json:"stagingKey"`
	PermanentKey string `json:"permanentKey,omitempty"`
	Err          error  `json:"-"`
}

// OK reports whether the item was promoted.
func (r PromotionResult) OK() bool {
	return r.Err == nil && r.PermanentKey != ""
}

// URLMode selects how a key is resolved to a URL.
type URLMode struct {
	Signed bool
	Expiry time.Duration
}

// PublicURL resolves keys to a deterministic public URL.
var PublicURL = URLMode{}

// SignedURL resolves keys to a URL valid for the given number of minutes.
func SignedURL(minutes int) URLMode {
	return URLMode{Signed: true, Expiry: time.Duration(minutes) * time.Minute}
}

// DisplayOrderKey is the store metadata attribute holding an asset's position.
const DisplayOrderKey = "display-order"
