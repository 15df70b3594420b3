// Package coding implements the behavior coding stage: every adult utterance
// receives exactly one tag from the mode-specific DPICS-derived vocabulary.
//
// The two vocabularies are declared here as data, not branching logic. CDI
// tags carry a priority rank — when an utterance plausibly matches several
// tags, the lowest rank wins (an echo that is also phrased as a command is
// coded Echo). PDI tags are mutually exclusive by definition and carry no
// rank beyond the neutral fallback.
package coding

import (
	"fmt"
	"sort"
	"strings"

	"github.com/corvidlabs/attune/pkg/types"
)

// CDI vocabulary.
const (
	TagEcho            types.Tag = "echo"
	TagLabeledPraise   types.Tag = "labeled_praise"
	TagUnlabeledPraise types.Tag = "unlabeled_praise"
	TagNarration       types.Tag = "narration"
	TagDirectCommand   types.Tag = "direct_command"
	TagIndirectCommand types.Tag = "indirect_command"
	TagQuestion        types.Tag = "question"
	TagNegativeTalk    types.Tag = "negative_talk"
	TagNeutral         types.Tag = "neutral"
)

// PDI vocabulary. Direct/labeled-praise/warning/time-out statements are the
// effective set; the rest are ineffective. Neutral is the shared fallback.
const (
	TagPDIDirectCommand   types.Tag = "direct_command"
	TagPDIPositiveCommand types.Tag = "positive_command"
	TagPDISpecificCommand types.Tag = "specific_command"
	TagPDILabeledPraise   types.Tag = "labeled_praise"
	TagPDICorrectWarning  types.Tag = "correct_warning"
	TagPDITimeOut         types.Tag = "correct_timeout_statement"
	TagPDIIndirectCommand types.Tag = "indirect_command"
	TagPDINegativeCommand types.Tag = "negative_command"
	TagPDIVagueCommand    types.Tag = "vague_command"
	TagPDIChainedCommand  types.Tag = "chained_command"
	TagPDIHarshTone       types.Tag = "harsh_tone"
)

// TagDef describes one vocabulary entry.
type TagDef struct {
	Tag types.Tag

	// Priority orders CDI ambiguity resolution: lower wins. Zero for PDI
	// tags, which are mutually exclusive by definition.
	Priority int

	// Description is the coding criterion given to the model verbatim.
	Description string

	// Effective marks PDI tags belonging to the effective command set.
	// Unused for CDI.
	Effective bool
}

// Schema is one mode's complete coding vocabulary.
type Schema struct {
	Mode types.Mode
	Tags []TagDef

	// Fallback is assigned when no other criterion applies.
	Fallback types.Tag
}

// cdiSchema is the CDI vocabulary with DPICS priority ranks.
var cdiSchema = Schema{
	Mode:     types.ModeCDI,
	Fallback: TagNeutral,
	Tags: []TagDef{
		{Tag: TagEcho, Priority: 1, Description: "Repeats or paraphrases the child's words, possibly with elaboration."},
		{Tag: TagLabeledPraise, Priority: 2, Description: "Praise that names the specific behavior being praised (e.g. 'Great job stacking the blocks so carefully')."},
		{Tag: TagUnlabeledPraise, Priority: 3, Description: "Positive evaluation without naming the behavior (e.g. 'Good job!', 'Nice!')."},
		{Tag: TagNarration, Priority: 4, Description: "Describes the child's ongoing activity without directing it (behavioral description)."},
		{Tag: TagDirectCommand, Priority: 5, Description: "Imperative statement telling the child exactly what to do."},
		{Tag: TagIndirectCommand, Priority: 6, Description: "Suggestion or question implying the child should act (e.g. 'Why don't you...', 'Let's...')."},
		{Tag: TagQuestion, Priority: 7, Description: "Any question that is not an indirect command, including rhetorical ones."},
		{Tag: TagNegativeTalk, Priority: 8, Description: "Criticism, disapproval, sarcasm, or 'no/don't/stop' statements."},
		{Tag: TagNeutral, Priority: 9, Description: "Any adult speech not matching another category."},
	},
}

// pdiSchema is the PDI vocabulary. No priority ranks: categories are defined
// to be mutually exclusive, with neutral as the fallback.
var pdiSchema = Schema{
	Mode:     types.ModePDI,
	Fallback: TagNeutral,
	Tags: []TagDef{
		{Tag: TagPDIDirectCommand, Effective: true, Description: "Single, clearly stated imperative the child can act on now."},
		{Tag: TagPDIPositiveCommand, Effective: true, Description: "Command phrased as what TO do rather than what to stop doing."},
		{Tag: TagPDISpecificCommand, Effective: true, Description: "Command naming a concrete observable action."},
		{Tag: TagPDILabeledPraise, Effective: true, Description: "Praise naming the complied-with behavior after compliance."},
		{Tag: TagPDICorrectWarning, Effective: true, Description: "Properly structured if-then warning stated once, calmly."},
		{Tag: TagPDITimeOut, Effective: true, Description: "Correctly delivered time-out statement following the procedure."},
		{Tag: TagPDIIndirectCommand, Description: "Command phrased as a question or suggestion."},
		{Tag: TagPDINegativeCommand, Description: "Command phrased as what to stop doing."},
		{Tag: TagPDIVagueCommand, Description: "Command too unclear for the child to know what is expected."},
		{Tag: TagPDIChainedCommand, Description: "Multiple commands issued in one utterance before compliance is possible."},
		{Tag: TagPDIHarshTone, Description: "Command or correction delivered with anger, yelling, or threat."},
		{Tag: TagNeutral, Description: "Any adult speech not matching another category."},
	},
}

// SchemaFor returns the coding schema for mode.
func SchemaFor(mode types.Mode) (Schema, error) {
	switch mode {
	case types.ModeCDI:
		return cdiSchema, nil
	case types.ModePDI:
		return pdiSchema, nil
	default:
		return Schema{}, fmt.Errorf("coding: unknown mode %q", mode)
	}
}

// Valid reports whether tag belongs to the schema's vocabulary.
func (s Schema) Valid(tag types.Tag) bool {
	for _, d := range s.Tags {
		if d.Tag == tag {
			return true
		}
	}
	return false
}

// Resolve picks the winning tag from candidates. For CDI the lowest priority
// rank wins; for PDI the first valid candidate wins (the vocabulary is
// mutually exclusive, so multiple candidates indicate model noise). Invalid
// candidates are ignored; with none left, the fallback applies.
func (s Schema) Resolve(candidates []types.Tag) types.Tag {
	valid := candidates[:0:0]
	for _, c := range candidates {
		if s.Valid(c) {
			valid = append(valid, c)
		}
	}
	if len(valid) == 0 {
		return s.Fallback
	}
	if s.Mode != types.ModeCDI || len(valid) == 1 {
		return valid[0]
	}
	sort.Slice(valid, func(i, j int) bool {
		return s.priority(valid[i]) < s.priority(valid[j])
	})
	return valid[0]
}

// priority returns the CDI rank for tag; unknown tags sort last.
func (s Schema) priority(tag types.Tag) int {
	for _, d := range s.Tags {
		if d.Tag == tag {
			return d.Priority
		}
	}
	return len(s.Tags) + 1
}

// promptVocabulary renders the schema as prompt text, CDI entries in
// priority order with explicit ranks.
func (s Schema) promptVocabulary() string {
	var sb strings.Builder
	for _, d := range s.Tags {
		if s.Mode == types.ModeCDI {
			fmt.Fprintf(&sb, "- %s (priority %d): %s\n", d.Tag, d.Priority, d.Description)
		} else {
			fmt.Fprintf(&sb, "- %s: %s\n", d.Tag, d.Description)
		}
	}
	return sb.String()
}
