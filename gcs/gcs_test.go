package gcs

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/dukerupert/hearth"
	"github.com/stretchr/testify/assert"
	"google.golang.org/api/googleapi"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantCode      string
		wantTransient bool
	}{
		{"missing object", storage.ErrObjectNotExist, hearth.ENOTFOUND, false},
		{"wrapped missing object", fmt.Errorf("attrs: %w", storage.ErrObjectNotExist), hearth.ENOTFOUND, false},
		{"service unavailable", &googleapi.Error{Code: 503}, hearth.EUNAVAILABLE, true},
		{"rate limited", &googleapi.Error{Code: 429}, hearth.EUNAVAILABLE, true},
		{"forbidden", &googleapi.Error{Code: 403}, hearth.EINTERNAL, false},
		{"deadline", context.DeadlineExceeded, hearth.EUNAVAILABLE, true},
		{"plain", errors.New("boom"), hearth.EINTERNAL, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify("stat", "a.jpg", tt.err)
			assert.Equal(t, tt.wantCode, hearth.ErrorCode(err))
			assert.Equal(t, tt.wantTransient, hearth.IsTransient(err))
		})
	}
}

func TestWithVisibility(t *testing.T) {
	src := map[string]string{"display-order": "3", visibilityKey: "private"}

	got := withVisibility(src, hearth.Public)
	assert.Equal(t, map[string]string{"display-order": "3", visibilityKey: "public"}, got)
	assert.Equal(t, "private", src[visibilityKey], "source map must not be modified")

	assert.Equal(t, map[string]string{visibilityKey: "private"}, withVisibility(nil, hearth.Private))
}

func TestPredefinedACL(t *testing.T) {
	assert.Equal(t, "publicRead", predefinedACL(hearth.Public))
	assert.Equal(t, "private", predefinedACL(hearth.Private))
}

func TestOriginURL(t *testing.T) {
	assert.Equal(t, "https://storage.googleapis.com/media/unit/1/images/a.jpg", originURL("media", "unit/1/images/a.jpg"))
}
