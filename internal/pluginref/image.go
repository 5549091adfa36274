package pluginref

import "strings"

// NormalizeImageRef ensures an image reference carries an explicit tag.
// Untagged images behave as if tagged :latest so that block patterns see a
// stable form. Digest-pinned references are returned unchanged.
func NormalizeImageRef(image string) string {
	if image == "" {
		return image
	}
	// The tag separator only counts after the last path component, so
	// registry ports (host:5000/img) do not read as tags.
	last := image
	if i := strings.LastIndex(image, "/"); i >= 0 {
		last = image[i+1:]
	}
	if strings.Contains(last, "@") || strings.Contains(last, ":") {
		return image
	}
	return image + ":latest"
}

// MatchImage matches an image reference against block patterns after tag
// normalization.
func MatchImage(image string, patterns []string) (string, bool) {
	return MatchStringAny(NormalizeImageRef(image), patterns)
}
