package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistryMembershipIsASet(t *testing.T) {
	r := NewRegistry()
	assert.True(t, r.Add("abc"))
	assert.False(t, r.Add("abc"), "second join must not add")
	assert.False(t, r.Add(""))
	assert.Equal(t, []string{"abc"}, r.Members())
	assert.Equal(t, 1, r.Len())

	assert.True(t, r.Remove("abc"))
	assert.False(t, r.Remove("abc"))
	assert.False(t, r.Has("abc"))
}

func TestRegistryMembersSorted(t *testing.T) {
	r := NewRegistry()
	r.Add("def")
	r.Add("abc")
	r.Add("xyz")
	assert.Equal(t, []string{"abc", "def", "xyz"}, r.Members())
}

func TestRegistrySetActive(t *testing.T) {
	r := NewRegistry()

	prev, replaced := r.SetActive("abc")
	assert.Equal(t, "", prev)
	assert.False(t, replaced, "first set has nothing to purge")

	prev, replaced = r.SetActive("abc")
	assert.Equal(t, "abc", prev)
	assert.False(t, replaced, "same id is not a switch")

	prev, replaced = r.SetActive("def")
	assert.Equal(t, "abc", prev)
	assert.True(t, replaced)

	active, ok := r.Active()
	assert.True(t, ok)
	assert.Equal(t, "def", active)

	assert.Equal(t, "def", r.ClearActive())
	_, ok = r.Active()
	assert.False(t, ok)
}

func TestRegistryMatch(t *testing.T) {
	tests := []struct {
		name    string
		members []string
		active  string
		channel string
		want    Match
	}{
		{name: "active wins", members: []string{"abc"}, active: "abc", channel: "abc", want: MatchActive},
		{name: "active without membership", active: "abc", channel: "abc", want: MatchActive},
		{name: "member without active", members: []string{"abc", "def"}, channel: "def", want: MatchMember},
		{name: "member while other active", members: []string{"abc", "def"}, active: "abc", channel: "def", want: MatchMember},
		{name: "stray channel", members: []string{"abc"}, active: "abc", channel: "zzz", want: MatchNone},
		{name: "empty channel", members: []string{"abc"}, channel: "", want: MatchNone},
		{name: "nothing joined", channel: "abc", want: MatchNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			for _, m := range tt.members {
				r.Add(m)
			}
			if tt.active != "" {
				r.SetActive(tt.active)
			}
			assert.Equal(t, tt.want, r.Match(tt.channel))
			assert.Equal(t, tt.want != MatchNone, r.Relevant(tt.channel))
		})
	}
}

func TestRegistryClear(t *testing.T) {
	r := NewRegistry()
	r.Add("abc")
	r.SetActive("abc")
	r.Clear()
	assert.Empty(t, r.Members())
	_, ok := r.Active()
	assert.False(t, ok)
	assert.Equal(t, "none", r.Match("abc").String())
}
