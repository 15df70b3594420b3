package scoring

import (
	"reflect"
	"testing"

	"github.com/corvidlabs/attune/internal/coding"
	"github.com/corvidlabs/attune/pkg/types"
)

func TestAggregate_CountsOnlyTaggedAdultUtterances(t *testing.T) {
	utts := []types.Utterance{
		{OrderIndex: 0, Role: types.RoleAdult, Tag: coding.TagEcho},
		{OrderIndex: 1, Role: types.RoleChild},
		{OrderIndex: 2, Role: types.RoleAdult, Tag: coding.TagEcho},
		{OrderIndex: 3, Role: types.RoleAdult, Tag: coding.TagQuestion},
		{OrderIndex: 4, Role: types.RoleAdult}, // untagged: not counted
	}

	counts := Aggregate(utts)
	want := types.TagCounts{coding.TagEcho: 2, coding.TagQuestion: 1}
	if !reflect.DeepEqual(counts, want) {
		t.Errorf("counts = %v, want %v", counts, want)
	}
}

func TestAggregate_ClosedWorldTotal(t *testing.T) {
	utts := []types.Utterance{
		{OrderIndex: 0, Role: types.RoleAdult, Tag: coding.TagEcho},
		{OrderIndex: 1, Role: types.RoleAdult, Tag: coding.TagNarration},
		{OrderIndex: 2, Role: types.RoleAdult, Tag: coding.TagNeutral},
		{OrderIndex: 3, Role: types.RoleChild},
	}

	counts := Aggregate(utts)
	adultCoded := 0
	for _, u := range utts {
		if u.Role == types.RoleAdult && u.Tag != "" {
			adultCoded++
		}
	}
	if counts.Total() != adultCoded {
		t.Errorf("count total = %d, want %d (one tag per coded adult utterance)",
			counts.Total(), adultCoded)
	}
}

func TestAggregate_Idempotent(t *testing.T) {
	utts := []types.Utterance{
		{OrderIndex: 0, Role: types.RoleAdult, Tag: coding.TagLabeledPraise},
		{OrderIndex: 1, Role: types.RoleAdult, Tag: coding.TagEcho},
	}

	first := Aggregate(utts)
	second := Aggregate(utts)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("aggregate not idempotent: %v vs %v", first, second)
	}
	if Score(first, types.ModeCDI) != Score(second, types.ModeCDI) {
		t.Error("score not idempotent for identical counts")
	}
}

func TestCDIScore_ReferenceScenario(t *testing.T) {
	// praise 12, echo 8, narration 10, question 1, command 1, criticism 0
	// penScore = 20 + 16 + 20 = 56; avoid total 2 < 3 so penalty part = 40.
	counts := types.TagCounts{
		coding.TagLabeledPraise:   7,
		coding.TagUnlabeledPraise: 5,
		coding.TagEcho:            8,
		coding.TagNarration:       10,
		coding.TagQuestion:        1,
		coding.TagDirectCommand:   1,
	}
	if got := Score(counts, types.ModeCDI); got != 96 {
		t.Errorf("score = %d, want 96", got)
	}
}

func TestCDIScore_IndependentClamping(t *testing.T) {
	// No DO-skills and no DON'T-skills: 0 + 40, not 0.
	if got := Score(types.TagCounts{}, types.ModeCDI); got != 40 {
		t.Errorf("empty-session score = %d, want 40", got)
	}
}

func TestCDIScore_AvoidPenaltyDecay(t *testing.T) {
	cases := []struct {
		questions int
		want      int
	}{
		{0, 40}, {2, 40}, {3, 30}, {4, 20}, {6, 0}, {10, 0},
	}
	for _, c := range cases {
		counts := types.TagCounts{coding.TagQuestion: c.questions}
		if got := Score(counts, types.ModeCDI); got != c.want {
			t.Errorf("questions=%d: score = %d, want %d", c.questions, got, c.want)
		}
	}
}

func TestCDIScore_SkillCapAtTen(t *testing.T) {
	// 30 echoes earn no more than the 20-point cap.
	counts := types.TagCounts{coding.TagEcho: 30}
	if got := Score(counts, types.ModeCDI); got != 60 {
		t.Errorf("score = %d, want 60 (20 capped echo points + 40 avoid)", got)
	}
}

func TestPDIScore_ReferenceScenario(t *testing.T) {
	counts := types.TagCounts{
		coding.TagPDIDirectCommand:   6,
		coding.TagPDIIndirectCommand: 2,
		coding.TagPDIVagueCommand:    1,
		coding.TagPDIChainedCommand:  1,
	}
	if got := Score(counts, types.ModePDI); got != 60 {
		t.Errorf("score = %d, want 60", got)
	}
}

func TestPDIScore_NoCommandsScoresZero(t *testing.T) {
	counts := types.TagCounts{coding.TagPDILabeledPraise: 5}
	if got := Score(counts, types.ModePDI); got != 0 {
		t.Errorf("score = %d, want 0", got)
	}
}

func TestScore_AlwaysWithinBounds(t *testing.T) {
	extremes := []types.TagCounts{
		{},
		{coding.TagEcho: 1000, coding.TagLabeledPraise: 1000, coding.TagNarration: 1000},
		{coding.TagQuestion: 1000},
		{coding.TagPDIDirectCommand: 1000},
		{coding.TagPDIVagueCommand: 1000},
	}
	for _, counts := range extremes {
		for _, mode := range []types.Mode{types.ModeCDI, types.ModePDI} {
			got := Score(counts, mode)
			if got < 0 || got > 100 {
				t.Errorf("score(%v, %s) = %d, outside [0,100]", counts, mode, got)
			}
		}
	}
}
