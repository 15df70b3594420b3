// Package scoring derives tag counts and the normalized mastery score from a
// session's tagged utterances.
//
// Everything here is pure and deterministic: no I/O, no AI calls. Counts and
// score are re-derivable at any time from the tagged utterance list, so the
// values cached on the session are never the sole source of truth.
package scoring

import (
	"math"

	"github.com/corvidlabs/attune/internal/coding"
	"github.com/corvidlabs/attune/pkg/types"
)

// cdiSkillCap is the occurrence count at which a CDI DO-skill earns its full
// 20 points.
const cdiSkillCap = 10

// Aggregate counts tags across the adult utterances of one session. Only
// utterances that carry both the adult role and a tag contribute, so the
// closed-world property holds: the count total equals the number of coded
// adult utterances.
func Aggregate(utts []types.Utterance) types.TagCounts {
	counts := types.TagCounts{}
	for _, u := range utts {
		if u.Role != types.RoleAdult || u.Tag == "" {
			continue
		}
		counts[u.Tag]++
	}
	return counts
}

// Score computes the normalized [0,100] mastery score for counts under mode.
func Score(counts types.TagCounts, mode types.Mode) int {
	if mode == types.ModePDI {
		return pdiScore(counts)
	}
	return cdiScore(counts)
}

// cdiScore implements the CDI formula: up to 60 points for the PEN DO-skills
// (praise, echo, narration — 20 each, capped at 10 occurrences) plus up to
// 40 points for avoiding questions, commands, and criticism.
//
// The two parts are clamped independently: a silent session with no DO-skills
// and no DON'T-skills scores 40, not 0.
func cdiScore(counts types.TagCounts) int {
	praise := counts[coding.TagLabeledPraise] + counts[coding.TagUnlabeledPraise]
	echo := counts[coding.TagEcho]
	narration := counts[coding.TagNarration]

	penScore := skillPoints(praise) + skillPoints(echo) + skillPoints(narration)

	avoid := counts[coding.TagQuestion] +
		counts[coding.TagDirectCommand] +
		counts[coding.TagIndirectCommand] +
		counts[coding.TagNegativeTalk]

	var avoidPenalty float64
	if avoid < 3 {
		avoidPenalty = 40
	} else {
		avoidPenalty = math.Max(0, 40-float64(avoid-2)*10)
	}

	return clampScore(int(math.Round(penScore + avoidPenalty)))
}

// skillPoints maps one DO-skill count onto its 20-point share, full credit
// at cdiSkillCap occurrences.
func skillPoints(count int) float64 {
	return math.Min(20, float64(count)/cdiSkillCap*20)
}

// pdiScore implements the PDI formula: the share of commands that were
// direct, over the total command count. No commands at all scores 0 — a PDI
// session without commands demonstrates nothing.
func pdiScore(counts types.TagCounts) int {
	direct := counts[coding.TagPDIDirectCommand]
	total := direct +
		counts[coding.TagPDIIndirectCommand] +
		counts[coding.TagPDIVagueCommand] +
		counts[coding.TagPDIChainedCommand]

	if total == 0 {
		return 0
	}
	return clampScore(int(math.Round(100 * float64(direct) / float64(total))))
}

// clampScore bounds s to [0,100].
func clampScore(s int) int {
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}
