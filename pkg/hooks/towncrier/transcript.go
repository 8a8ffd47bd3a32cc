package towncrier

import "strings"

// TranscriptRefs are the distinct files a transcript mentions, in order of
// first mention.
type TranscriptRefs struct {
	Context []string // context/... paths
	Memory  []string // memory/... paths
	Skills  []string // skill names from skills/<name>/SKILL.md
}

// ScanRefs collects the context files, memory files and skills referenced
// in a transcript. The slices are never nil.
func ScanRefs(transcript string) TranscriptRefs {
	refs := TranscriptRefs{Context: []string{}, Memory: []string{}, Skills: []string{}}
	for _, m := range contextRe.FindAllString(transcript, -1) {
		refs.Context = appendUnique(refs.Context, strings.TrimLeft(m, " \t\r\n\"'/"))
	}
	for _, m := range memoryRe.FindAllString(transcript, -1) {
		refs.Memory = appendUnique(refs.Memory, m)
	}
	for _, m := range skillRe.FindAllStringSubmatch(transcript, -1) {
		refs.Skills = appendUnique(refs.Skills, m[1])
	}
	return refs
}

func appendUnique(list []string, s string) []string {
	for _, existing := range list {
		if existing == s {
			return list
		}
	}
	return append(list, s)
}
