// SPDX-FileCopyrightText: SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package tag parses science platform image tags into a typed, orderable
// model. The grammar is defined by https://sqr-059.lsst.io.
package tag

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Type classifies the grammar of an image tag. The constants are listed in
// menu priority order, most significant first.
type Type string

const (
	// TypeRelease is a stable release tag, e.g. "r23_0_1".
	TypeRelease Type = "release"
	// TypeWeekly is a weekly build tag, e.g. "w_2023_14".
	TypeWeekly Type = "weekly"
	// TypeDaily is a daily build tag, e.g. "d_2023_05_13".
	TypeDaily Type = "daily"
	// TypeReleaseCandidate is a release candidate tag, e.g. "r23_0_0_rc1".
	TypeReleaseCandidate Type = "release_candidate"
	// TypeExperimental is an experimental build tag, e.g. "exp_w_2023_14_nosudo".
	TypeExperimental Type = "experimental"
	// TypeAlias is a tag that points at another tag, e.g. "recommended" or "latest".
	TypeAlias Type = "alias"
	// TypeUnknown is any tag outside the known grammars.
	TypeUnknown Type = "unknown"
)

// Types returns all tag types in menu priority order.
func Types() []Type {
	return []Type{TypeRelease, TypeWeekly, TypeDaily, TypeReleaseCandidate, TypeExperimental, TypeAlias, TypeUnknown}
}

// DefaultTag is substituted for an empty tag, following the Docker convention.
const DefaultTag = "latest"

// Tag holds all the semantic data that can be extracted from an image tag
// string.
type Tag struct {
	// Raw is the tag exactly as it appears on the image, e.g. "w_2023_14".
	Raw string `json:"tag"`
	// Type classifies the tag grammar.
	Type Type `json:"type"`
	// DisplayName is the human-readable name derived from the tag,
	// e.g. "Weekly 2023_14".
	DisplayName string `json:"name"`
	// Version orders tags of the release, weekly, daily and release
	// candidate types within their type. It is nil for all other types.
	Version *semver.Version `json:"-"`
	// Cycle is the SAL cycle number, only present on test-and-science builds.
	Cycle *int `json:"cycle,omitempty"`
}

// Fragments of the tag grammar. They are combined into the ordered pattern
// list below, all anchored at both ends.
const (
	fragmentRelease   = `r(?P<major>\d+)_(?P<minor>\d+)_(?P<patch>\d+)`
	fragmentCandidate = fragmentRelease + `_rc(?P<pre>\d+)`
	fragmentWeekly    = `w_(?P<year>\d+)_(?P<week>\d+)`
	fragmentDaily     = `d_(?P<year>\d+)_(?P<month>\d+)_(?P<day>\d+)`
	fragmentCycle     = `_(?P<ctag>c|csal)(?P<cycle>\d+)\.(?P<cbuild>\d+)`
	fragmentRest      = `_(?P<rest>.*)`
)

// The ordered heart of the parser: the first matching pattern wins. Release
// candidate patterns must precede release patterns because a release
// candidate is a release tag with a non-empty rest, and cycle-bearing
// patterns must precede their cycleless equivalents.
var patterns = []struct {
	tagType Type
	regexp  *regexp.Regexp
}{
	// r23_0_0_rc1_c0020.001_20230513
	{TypeReleaseCandidate, regexp.MustCompile(`^` + fragmentCandidate + fragmentCycle + fragmentRest + `$`)},
	// r23_0_0_rc1_c0020.001
	{TypeReleaseCandidate, regexp.MustCompile(`^` + fragmentCandidate + fragmentCycle + `$`)},
	// r23_0_0_rc1_20230513
	{TypeReleaseCandidate, regexp.MustCompile(`^` + fragmentCandidate + fragmentRest + `$`)},
	// r23_0_0_rc1
	{TypeReleaseCandidate, regexp.MustCompile(`^` + fragmentCandidate + `$`)},
	// r22_0_1_c0019.001_20210513
	{TypeRelease, regexp.MustCompile(`^` + fragmentRelease + fragmentCycle + fragmentRest + `$`)},
	// r22_0_1_c0019.001
	{TypeRelease, regexp.MustCompile(`^` + fragmentRelease + fragmentCycle + `$`)},
	// r22_0_1_20210513
	{TypeRelease, regexp.MustCompile(`^` + fragmentRelease + fragmentRest + `$`)},
	// r22_0_1
	{TypeRelease, regexp.MustCompile(`^` + fragmentRelease + `$`)},
	// r170 (legacy two-digit form, no additional parts)
	{TypeRelease, regexp.MustCompile(`^r(?P<major>\d\d)(?P<minor>\d)$`)},
	// w_2021_13_c0020.001_20210513
	{TypeWeekly, regexp.MustCompile(`^` + fragmentWeekly + fragmentCycle + fragmentRest + `$`)},
	// w_2021_13_c0020.001
	{TypeWeekly, regexp.MustCompile(`^` + fragmentWeekly + fragmentCycle + `$`)},
	// w_2021_13_20210513
	{TypeWeekly, regexp.MustCompile(`^` + fragmentWeekly + fragmentRest + `$`)},
	// w_2021_13
	{TypeWeekly, regexp.MustCompile(`^` + fragmentWeekly + `$`)},
	// d_2021_05_13_c0019.001_20210513
	{TypeDaily, regexp.MustCompile(`^` + fragmentDaily + fragmentCycle + fragmentRest + `$`)},
	// d_2021_05_13_c0019.001
	{TypeDaily, regexp.MustCompile(`^` + fragmentDaily + fragmentCycle + `$`)},
	// d_2021_05_13_20210513
	{TypeDaily, regexp.MustCompile(`^` + fragmentDaily + fragmentRest + `$`)},
	// d_2021_05_13
	{TypeDaily, regexp.MustCompile(`^` + fragmentDaily + `$`)},
	// exp_w_2021_05_13_nosudo
	{TypeExperimental, regexp.MustCompile(`^exp` + fragmentRest + `$`)},
}

// Parse parses a raw tag string. It never fails: tags outside the known
// grammars are returned with type TypeUnknown and the raw tag as display
// name. An empty tag is normalized to DefaultTag.
func Parse(raw string) Tag {
	if raw == "" {
		raw = DefaultTag
	}

	for _, p := range patterns {
		match := p.regexp.FindStringSubmatch(raw)
		if match == nil {
			continue
		}
		return newTag(raw, p.tagType, namedGroups(p.regexp, match))
	}

	return Tag{Raw: raw, Type: TypeUnknown, DisplayName: raw}
}

// ParseWithAliases parses a raw tag string and forces the alias type for
// tags named in aliasTags, for DefaultTag, and for any tag beginning with
// "latest_". Alias display names are the prettified raw tag.
func ParseWithAliases(raw string, aliasTags []string) Tag {
	t := Parse(raw)

	for _, alias := range aliasTags {
		if t.Raw == alias {
			return t.asAlias()
		}
	}
	if t.Raw == DefaultTag || strings.HasPrefix(t.Raw, "latest_") {
		return t.asAlias()
	}

	return t
}

func (t Tag) asAlias() Tag {
	t.Type = TypeAlias
	t.DisplayName = Prettify(t.Raw)
	t.Version = nil
	t.Cycle = nil
	return t
}

// Prettify turns a possibly-underscore-separated tag into space-separated
// title case, e.g. "latest_daily" becomes "Latest Daily".
func Prettify(raw string) string {
	return cases.Title(language.English).String(strings.ReplaceAll(raw, "_", " "))
}

func newTag(raw string, tagType Type, md map[string]string) Tag {
	t := Tag{Raw: raw, Type: tagType, DisplayName: raw}

	if tagType == TypeExperimental {
		// Experimental tags usually look like exp_<other-legal-tag>, so the
		// display name is derived from the recursive parse of the remainder.
		if rest := md["rest"]; rest != "" {
			t.DisplayName = "Experimental " + Parse(rest).DisplayName
		}
		return t
	}

	var (
		major, minor, patch uint64
		pre, restName       string
	)

	switch tagType {
	case TypeRelease, TypeReleaseCandidate:
		major, minor, patch = mustUint(md["major"]), mustUint(md["minor"]), mustUint(md["patch"])
		restName = fmt.Sprintf("r%d.%d.%d", major, minor, patch)
		if md["pre"] != "" {
			pre = "rc" + md["pre"]
			restName += "-" + pre
		}

	case TypeWeekly:
		major, minor = mustUint(md["year"]), mustUint(md["week"])
		// Preserve the initial string format, including zero padding.
		restName = md["year"] + "_" + md["week"]

	case TypeDaily:
		major, minor, patch = mustUint(md["year"]), mustUint(md["month"]), mustUint(md["day"])
		restName = md["year"] + "_" + md["month"] + "_" + md["day"]
	}

	t.Version = semver.New(major, minor, patch, pre, buildMetadata(md["ctag"], md["cycle"], md["cbuild"], md["rest"]))

	name := typeDisplayName(tagType) + " " + restName
	if md["cycle"] != "" {
		name += fmt.Sprintf(" (SAL Cycle %s, Build %s)", md["cycle"], md["cbuild"])

		cycle := int(mustUint(md["cycle"]))
		t.Cycle = &cycle
	}
	if md["rest"] != "" {
		name += fmt.Sprintf(" [%s]", md["rest"])
	}
	t.DisplayName = name

	return t
}

func typeDisplayName(tagType Type) string {
	switch tagType {
	case TypeRelease, TypeReleaseCandidate:
		return "Release"
	case TypeWeekly:
		return "Weekly"
	case TypeDaily:
		return "Daily"
	default:
		return Prettify(string(tagType))
	}
}

var nonBuildChars = regexp.MustCompile(`[^\w.]+`)

// buildMetadata massages the cycle components and the free-form rest into a
// semver-compatible build string, which is dot-separated and contains only
// alphanumerics. The cycle always precedes the rest.
func buildMetadata(ctag, cycle, cbuild, rest string) string {
	if cycle != "" {
		if rest != "" {
			rest = ctag + cycle + "." + cbuild + "_" + rest
		} else {
			rest = ctag + cycle + "." + cbuild
		}
	}
	if rest == "" {
		return ""
	}

	rest = strings.ReplaceAll(rest, "_", ".")
	return nonBuildChars.ReplaceAllString(rest, "")
}

func mustUint(s string) uint64 {
	if s == "" {
		return 0
	}

	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		// All callers pass strings captured by \d+ groups.
		panic(err)
	}
	return n
}
