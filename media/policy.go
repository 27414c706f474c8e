package media

import (
	"slices"

	"github.com/dukerupert/hearth"
)

// Validate checks a whole batch against policy before any store write. It
// stops at the first violation.
func Validate(policy hearth.Policy, uploads []hearth.Upload) error {
	n := len(uploads)
	if n == 0 || n < policy.MinCount || (policy.MaxCount > 0 && n > policy.MaxCount) {
		return &hearth.ValidationError{Kind: hearth.CountOutOfRange, Index: -1, Count: n}
	}

	for i, u := range uploads {
		ext := Ext(u.Filename)
		if !slices.Contains(policy.Extensions, ext) {
			return &hearth.ValidationError{Kind: hearth.UnsupportedFormat, Index: i, Ext: ext}
		}
		if len(u.Data) == 0 {
			return &hearth.ValidationError{Kind: hearth.Empty, Index: i}
		}
		size := max(u.DeclaredSize(), int64(len(u.Data)))
		if policy.MaxBytes > 0 && size > policy.MaxBytes {
			return &hearth.ValidationError{Kind: hearth.TooLarge, Index: i, Size: size}
		}
	}
	return nil
}
