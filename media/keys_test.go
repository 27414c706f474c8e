package media

import (
	"testing"

	"github.com/dukerupert/hearth"
	"github.com/stretchr/testify/assert"
)

func TestKeys_Deterministic(t *testing.T) {
	for i := 0; i < 3; i++ {
		assert.Equal(t, "unit/42/images/abc.jpg", PermanentKey(hearth.OwnerUnit, "42", "abc", ".jpg"))
		assert.Equal(t, "unit/42/images/abc_small.jpg", RenditionKey("unit/42/images/abc.jpg", "small"))
		assert.Equal(t, "staging/tok/images/abc.png", StagingKey("tok", "abc", ".png"))
	}
}

func TestPermanentKey_NormalizesExtension(t *testing.T) {
	assert.Equal(t, "offer/7/images/u.jpeg", PermanentKey(hearth.OwnerOffer, "7", "u", "JPEG"))
	assert.Equal(t, "offer/7/images/u.webp", PermanentKey(hearth.OwnerOffer, "7", "u", ".WebP"))
}

func TestRenditionKey(t *testing.T) {
	tests := []struct {
		name     string
		original string
		suffix   string
		want     string
	}{
		{"jpg", "unit/1/images/x.jpg", "thumbnail", "unit/1/images/x_thumbnail.jpg"},
		{"dot in directory", "unit/a.b/images/x.png", "large", "unit/a.b/images/x_large.png"},
		{"no extension", "unit/1/images/x", "medium", "unit/1/images/x_medium"},
		{"staging", "staging/t/images/0.webp", "small", "staging/t/images/0_small.webp"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RenditionKey(tt.original, tt.suffix))
		})
	}
}

func TestWithRenditions(t *testing.T) {
	set := []hearth.Rendition{hearth.Thumbnail, hearth.Medium}
	got := WithRenditions([]string{"a/1.jpg", "a/2.png"}, set)
	assert.Equal(t, []string{
		"a/1.jpg", "a/1_thumbnail.jpg", "a/1_medium.jpg",
		"a/2.png", "a/2_thumbnail.png", "a/2_medium.png",
	}, got)
}

func TestParseRendition(t *testing.T) {
	set := hearth.DefaultPolicies()[hearth.OwnerUnit].Renditions

	orig, name, ok := ParseRendition("unit/1/images/x_medium.jpg", set)
	assert.True(t, ok)
	assert.Equal(t, "unit/1/images/x.jpg", orig)
	assert.Equal(t, "medium", name)

	_, _, ok = ParseRendition("unit/1/images/x.jpg", set)
	assert.False(t, ok)

	_, _, ok = ParseRendition("unit/1/images/x_huge.jpg", set)
	assert.False(t, ok)

	// Round trip through RenditionKey.
	for _, r := range set {
		orig, name, ok := ParseRendition(RenditionKey("staging/t/images/4.png", r.Name), set)
		assert.True(t, ok)
		assert.Equal(t, "staging/t/images/4.png", orig)
		assert.Equal(t, r.Name, name)
	}
}

func TestPrefixes(t *testing.T) {
	assert.Equal(t, "staging/tok/images/", StagingPrefix("tok"))
	assert.Equal(t, "subunit/9/images/", OwnerPrefix(hearth.Owner{Kind: hearth.OwnerSubUnit, ID: "9"}))
	assert.True(t, isStagingKey(StagingKey("tok", "u", ".jpg")))
	assert.False(t, isStagingKey(PermanentKey(hearth.OwnerUnit, "1", "u", ".jpg")))
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "image/jpeg", ContentType(".jpg"))
	assert.Equal(t, "image/jpeg", ContentType(".JPEG"))
	assert.Equal(t, "image/png", ContentType(".png"))
	assert.Equal(t, "image/webp", ContentType("webp"))
}
