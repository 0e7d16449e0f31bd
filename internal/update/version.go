package update

import (
	"regexp"
	"strings"

	"golang.org/x/mod/semver"
)

// gitDescribePattern matches the suffix `git describe` appends to
// builds past a tag, e.g. v1.2.3-4-gabc1234 or -dirty variants.
var gitDescribePattern = regexp.MustCompile(
	`-\d+-g[0-9a-f]+(-dirty)?$`,
)

var prereleaseNumericPattern = regexp.MustCompile(
	`^([A-Za-z]+)(\d+)$`,
)

// IsDevBuildVersion reports whether v describes a development build
// rather than a tagged release. Anything that is not a plain semver
// tag counts: "dev", bare commit hashes, and git-describe suffixes.
func IsDevBuildVersion(v string) bool {
	v = strings.TrimPrefix(v, "v")
	if extractBaseSemver(v) == "" {
		return true
	}
	return gitDescribePattern.MatchString(v)
}

// extractBaseSemver returns the MAJOR.MINOR.PATCH core of v, or ""
// when v does not start with a numeric version.
func extractBaseSemver(v string) string {
	v = strings.TrimPrefix(v, "v")
	if len(v) == 0 || v[0] < '0' || v[0] > '9' {
		return ""
	}
	if !strings.Contains(v, ".") {
		return ""
	}
	if idx := strings.Index(v, "-"); idx > 0 {
		v = v[:idx]
	}
	return v
}

// isNewer reports whether v1 is a strictly newer release than v2.
// Versions without a recognizable semver core never compare newer.
func isNewer(v1, v2 string) bool {
	if extractBaseSemver(v1) == "" || extractBaseSemver(v2) == "" {
		return false
	}
	return semver.Compare(normalizeSemver(v1), normalizeSemver(v2)) > 0
}

// normalizeSemver coerces loose version strings into a form that
// golang.org/x/mod/semver accepts: leading "v", git-describe suffix
// stripped, and prerelease identifiers like "rc1" split into "rc.1"
// so they order numerically.
func normalizeSemver(v string) string {
	v = strings.TrimPrefix(v, "v")
	v = gitDescribePattern.ReplaceAllString(v, "")
	if idx := strings.Index(v, "-"); idx > 0 {
		v = v[:idx] + "-" + normalizePrerelease(v[idx+1:])
	}
	return "v" + v
}

func normalizePrerelease(prerelease string) string {
	parts := strings.Split(prerelease, ".")
	var result []string
	for _, part := range parts {
		matches := prereleaseNumericPattern.FindStringSubmatch(part)
		if matches == nil {
			result = append(result, part)
			continue
		}
		letters, digits := matches[1], matches[2]
		if len(digits) > 1 && digits[0] == '0' {
			// Leading zeros are not valid numeric identifiers;
			// leave the part alone rather than reorder it.
			result = append(result, part)
			continue
		}
		result = append(result, letters, digits)
	}
	return strings.Join(result, ".")
}
