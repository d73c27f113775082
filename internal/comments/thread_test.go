package comments

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommentPlainText(t *testing.T) {
	cases := []string{
		"hello",
		"",
		"  padded  ",
		"a: b",
		"↳",
		"↳ no colon here",
		"↳ : empty id",
		"↳ abc: ",
		"↳ abc:no-space",
		"x ↳ abc: later marker",
	}
	for _, raw := range cases {
		t.Run(raw, func(t *testing.T) {
			parsed := ParseComment(Comment{ID: "1", Comment: raw})
			if parsed.IsReply {
				t.Fatalf("ParseComment(%q).IsReply = true, want false", raw)
			}
			if parsed.Text != raw {
				t.Fatalf("ParseComment(%q).Text = %q, want unchanged", raw, parsed.Text)
			}
			if parsed.ParentID != "" {
				t.Fatalf("ParseComment(%q).ParentID = %q, want empty", raw, parsed.ParentID)
			}
		})
	}
}

func TestFormatThenParseRoundTrip(t *testing.T) {
	cases := []struct {
		parentID string
		text     string
	}{
		{parentID: "A", text: "hi back"},
		{parentID: "7c9e6679-7425-40de-944b-e07fc1f90ae7", text: "looks good"},
		{parentID: "B", text: "contains: a colon"},
		{parentID: "C", text: "multi\nline"},
	}
	for _, tc := range cases {
		t.Run(tc.parentID, func(t *testing.T) {
			stored := FormatCommentForStorage(tc.text, tc.parentID)
			parsed := ParseComment(Comment{ID: "x", Comment: stored})
			assert.True(t, parsed.IsReply)
			assert.Equal(t, tc.parentID, parsed.ParentID)
			assert.Equal(t, tc.text, parsed.Text)
		})
	}
}

func TestFormatCommentForStorageTrims(t *testing.T) {
	assert.Equal(t, "hello", FormatCommentForStorage("  hello \n", ""))
	assert.Equal(t, "↳ A: hello", FormatCommentForStorage(" hello ", " A "))
}

func TestParseCommentColumnWins(t *testing.T) {
	parsed := ParseComment(Comment{ID: "C", Comment: "↳ A: text", ParentID: "B"})
	assert.True(t, parsed.IsReply)
	assert.Equal(t, "B", parsed.ParentID)
	assert.Equal(t, "text", parsed.Text)

	plain := ParseComment(Comment{ID: "D", Comment: "no marker", ParentID: "B"})
	assert.True(t, plain.IsReply)
	assert.Equal(t, "B", plain.ParentID)
	assert.Equal(t, "no marker", plain.Text)
}

func TestBuildCommentThreadsScenario(t *testing.T) {
	base := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	input := []Comment{
		{ID: "A", Comment: "hello", CreatedAt: base},
		{ID: "B", Comment: "↳ A: hi back", CreatedAt: base.Add(time.Minute)},
		{ID: "C", Comment: "↳ B: and more", CreatedAt: base.Add(2 * time.Minute)},
	}

	threads := BuildCommentThreads(input)
	require.Len(t, threads, 1)
	a := threads[0]
	assert.Equal(t, "A", a.ID)
	require.Len(t, a.Replies, 1)
	assert.Equal(t, 1, a.ReplyCount)

	b := a.Replies[0]
	assert.Equal(t, "B", b.ID)
	assert.Equal(t, "hi back", b.Text)
	require.Len(t, b.Replies, 1)

	c := b.Replies[0]
	assert.Equal(t, "C", c.ID)
	assert.Equal(t, "and more", c.Text)
	assert.Empty(t, c.Replies)
	assert.Equal(t, 0, c.ReplyCount)

	assert.ElementsMatch(t, []string{"A", "B", "C"}, GetThreadCommentIDs(input, "A"))
}

func TestBuildCommentThreadsOrdering(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	input := []Comment{
		{ID: "old", Comment: "first", CreatedAt: base},
		{ID: "new", Comment: "second", CreatedAt: base.Add(time.Hour)},
		{ID: "r2", Comment: "↳ old: later reply", CreatedAt: base.Add(3 * time.Hour)},
		{ID: "r1", Comment: "↳ old: early reply", CreatedAt: base.Add(2 * time.Hour)},
	}

	threads := BuildCommentThreads(input)
	require.Len(t, threads, 2)
	assert.Equal(t, "new", threads[0].ID)
	assert.Equal(t, "old", threads[1].ID)

	replies := threads[1].Replies
	require.Len(t, replies, 2)
	assert.Equal(t, "r1", replies[0].ID)
	assert.Equal(t, "r2", replies[1].ID)
}

func TestBuildCommentThreadsDropsOrphans(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	input := []Comment{
		{ID: "A", Comment: "top", CreatedAt: base},
		{ID: "orphan", Comment: "↳ missing: nobody home", CreatedAt: base.Add(time.Minute)},
		{ID: "orphan-child", Comment: "↳ orphan: below the orphan", CreatedAt: base.Add(2 * time.Minute)},
	}

	threads := BuildCommentThreads(input)
	require.Len(t, threads, 1)
	assert.Equal(t, "A", threads[0].ID)

	seen := collectIDs(threads)
	assert.NotContains(t, seen, "orphan")
	assert.NotContains(t, seen, "orphan-child")
}

func TestBuildCommentThreadsStructuralInvariants(t *testing.T) {
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	input := []Comment{
		{ID: "t1", Comment: "top one", CreatedAt: base},
		{ID: "t2", Comment: "top two", CreatedAt: base.Add(time.Second)},
		{ID: "r1", Comment: "↳ t1: one", CreatedAt: base.Add(2 * time.Second)},
		{ID: "r2", Comment: "↳ t1: two", CreatedAt: base.Add(3 * time.Second)},
		{ID: "r3", Comment: "↳ r1: three", CreatedAt: base.Add(4 * time.Second)},
		{ID: "r4", Comment: "↳ t2: four", CreatedAt: base.Add(5 * time.Second)},
		{ID: "loop1", Comment: "↳ loop2: a", CreatedAt: base.Add(6 * time.Second)},
		{ID: "loop2", Comment: "↳ loop1: b", CreatedAt: base.Add(7 * time.Second)},
		{ID: "self", Comment: "↳ self: me", CreatedAt: base.Add(8 * time.Second)},
		{ID: "t1", Comment: "duplicate id", CreatedAt: base.Add(9 * time.Second)},
	}

	threads := BuildCommentThreads(input)
	require.Len(t, threads, 2, "every top-level comment is kept")

	counts := map[string]int{}
	var walk func(nodes []*Thread)
	walk = func(nodes []*Thread) {
		for _, node := range nodes {
			counts[node.ID]++
			if node.ReplyCount != len(node.Replies) {
				t.Fatalf("node %s ReplyCount = %d, len(Replies) = %d", node.ID, node.ReplyCount, len(node.Replies))
			}
			walk(node.Replies)
		}
	}
	walk(threads)

	for id, n := range counts {
		if n != 1 {
			t.Fatalf("comment %s appears %d times, want 1", id, n)
		}
	}
	assert.Len(t, counts, 6)
	assert.NotContains(t, counts, "loop1")
	assert.NotContains(t, counts, "self")
}

func TestBuildCommentThreadsEmpty(t *testing.T) {
	threads := BuildCommentThreads(nil)
	if threads == nil || len(threads) != 0 {
		t.Fatalf("BuildCommentThreads(nil) = %#v, want empty slice", threads)
	}
}

func TestGetThreadCommentIDsNestedChain(t *testing.T) {
	const depth = 25
	input := []Comment{{ID: nodeID(0), Comment: "root"}}
	for i := 1; i <= depth; i++ {
		input = append(input, Comment{
			ID:      nodeID(i),
			Comment: FormatCommentForStorage("reply", nodeID(i-1)),
		})
	}
	input = append(input, Comment{ID: "other", Comment: "unrelated"})

	ids := GetThreadCommentIDs(input, nodeID(0))
	assert.Len(t, ids, depth+1)
	assert.Equal(t, nodeID(0), ids[0])
	assert.NotContains(t, ids, "other")

	sub := GetThreadCommentIDs(input, nodeID(depth-2))
	assert.Len(t, sub, 3)
}

func TestGetThreadCommentIDsCycleAndMissingRoot(t *testing.T) {
	input := []Comment{
		{ID: "a", Comment: "↳ b: x"},
		{ID: "b", Comment: "↳ a: y"},
	}
	ids := GetThreadCommentIDs(input, "a")
	assert.ElementsMatch(t, []string{"a", "b"}, ids)

	assert.Nil(t, GetThreadCommentIDs(input, "zzz"))
}

func TestValidateCommentText(t *testing.T) {
	cases := []struct {
		name  string
		text  string
		valid bool
	}{
		{name: "empty", text: "", valid: false},
		{name: "whitespace", text: "   \n\t", valid: false},
		{name: "too long", text: strings.Repeat("a", 10001), valid: false},
		{name: "max length", text: strings.Repeat("a", 10000), valid: true},
		{name: "multibyte max length", text: strings.Repeat("é", 10000), valid: true},
		{name: "marker pattern", text: "↳ x: y", valid: false},
		{name: "marker without colon", text: "↳ just an arrow", valid: true},
		{name: "plain", text: "Looks good to me", valid: true},
		{name: "colon inside", text: "note: check the totals", valid: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ValidateCommentText(tc.text)
			if got.Valid != tc.valid {
				t.Fatalf("ValidateCommentText(%s) valid = %v, want %v (error %q)", tc.name, got.Valid, tc.valid, got.Error)
			}
			if !got.Valid && got.Error == "" {
				t.Fatalf("ValidateCommentText(%s) returned no error message", tc.name)
			}
		})
	}
}

func collectIDs(nodes []*Thread) []string {
	var out []string
	for _, node := range nodes {
		out = append(out, node.ID)
		out = append(out, collectIDs(node.Replies)...)
	}
	return out
}

func nodeID(i int) string {
	return "n" + strings.Repeat("x", i)
}
