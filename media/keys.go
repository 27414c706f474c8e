package media

import (
	"fmt"
	"mime"
	"path"
	"strings"

	"github.com/dukerupert/hearth"
)

const (
	stagingPrefix = "staging"
	imagesSegment = "images"
)

// Ext returns the lower-cased extension of filename, including the dot.
func Ext(filename string) string {
	return strings.ToLower(path.Ext(filename))
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(ext)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// StagingKey names an asset uploaded under a registration token. A token
// spans several requests, so uniqueID must be a fresh random token supplied
// by the caller, as for PermanentKey.
func StagingKey(token, uniqueID, ext string) string {
	return fmt.Sprintf("%s/%s/%s/%s%s", stagingPrefix, token, imagesSegment, uniqueID, normalizeExt(ext))
}

// PermanentKey names an asset of a finalized owner. uniqueID must be a fresh
// random token supplied by the caller.
func PermanentKey(kind hearth.OwnerKind, ownerID, uniqueID, ext string) string {
	return fmt.Sprintf("%s/%s/%s/%s%s", kind, ownerID, imagesSegment, uniqueID, normalizeExt(ext))
}

// StagingPrefix is the prefix shared by every key staged under token.
func StagingPrefix(token string) string {
	return fmt.Sprintf("%s/%s/%s/", stagingPrefix, token, imagesSegment)
}

// OwnerPrefix is the prefix shared by every permanent key of owner.
func OwnerPrefix(owner hearth.Owner) string {
	return fmt.Sprintf("%s/%s/%s/", owner.Kind, owner.ID, imagesSegment)
}

// RenditionKey derives a rendition key by inserting "_suffix" before the
// extension of the final path segment.
func RenditionKey(originalKey, suffix string) string {
	ext := path.Ext(originalKey)
	return originalKey[:len(originalKey)-len(ext)] + "_" + suffix + ext
}

// RenditionKeys returns the rendition keys of originalKey, in set order.
func RenditionKeys(originalKey string, set []hearth.Rendition) []string {
	keys := make([]string, 0, len(set))
	for _, r := range set {
		keys = append(keys, RenditionKey(originalKey, r.Name))
	}
	return keys
}

// WithRenditions returns originals followed by each original's renditions.
func WithRenditions(originals []string, set []hearth.Rendition) []string {
	keys := make([]string, 0, len(originals)*(len(set)+1))
	for _, k := range originals {
		keys = append(keys, k)
		keys = append(keys, RenditionKeys(k, set)...)
	}
	return keys
}

// ParseRendition reports whether key is a rendition of some original under
// set, returning the original key and the rendition name.
func ParseRendition(key string, set []hearth.Rendition) (original, name string, ok bool) {
	ext := path.Ext(key)
	stem := key[:len(key)-len(ext)]
	for _, r := range set {
		suffix := "_" + r.Name
		if strings.HasSuffix(stem, suffix) && !strings.HasSuffix(stem, "/"+suffix) {
			return strings.TrimSuffix(stem, suffix) + ext, r.Name, true
		}
	}
	return "", "", false
}

func isStagingKey(key string) bool {
	return strings.HasPrefix(key, stagingPrefix+"/")
}

// ContentType returns the MIME type for an image extension.
func ContentType(ext string) string {
	switch normalizeExt(ext) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}
