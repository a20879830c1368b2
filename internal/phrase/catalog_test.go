package phrase

import "testing"

func TestMatchCategory(t *testing.T) {
	c := New()

	cat := c.MatchCategory("check my inbox for anything from Dana")
	if cat.Name != "email" {
		t.Errorf("MatchCategory() = %q, want email", cat.Name)
	}

	cat = c.MatchCategory("what time is it in Tokyo")
	if cat.Name != fallbackName {
		t.Errorf("MatchCategory() = %q, want fallback", cat.Name)
	}
}

func TestPhrasesEndWithSpace(t *testing.T) {
	c := New()
	for _, cat := range c.categories {
		for _, p := range cat.InitialPhrases {
			if p[len(p)-1] != ' ' {
				t.Errorf("category %s initial phrase %q does not end with a space", cat.Name, p)
			}
		}
		for _, p := range cat.KeepAlivePhrases {
			if p[len(p)-1] != ' ' {
				t.Errorf("category %s keep-alive phrase %q does not end with a space", cat.Name, p)
			}
		}
	}
}

func TestPickInitial_NoRepeat(t *testing.T) {
	c := New()
	cat := c.MatchCategory("check my inbox")

	first := c.PickInitial(cat)
	for i := 0; i < 20; i++ {
		second := c.PickInitial(cat)
		if second == first {
			t.Fatalf("PickInitial() repeated %q back to back", first)
		}
		first = second
	}
}

func TestPickInitial_SinglePhraseAllowsRepeat(t *testing.T) {
	c := newFrom([]Category{{Name: "solo", InitialPhrases: []string{"Only phrase... "}}})
	cat := c.categories[0]
	if got := c.PickInitial(cat); got != "Only phrase... " {
		t.Errorf("PickInitial() = %q", got)
	}
	if got := c.PickInitial(cat); got != "Only phrase... " {
		t.Errorf("PickInitial() = %q on repeat", got)
	}
}

func TestPickKeepAlive_RoundRobin(t *testing.T) {
	c := New()
	cat := c.MatchCategory("check my calendar")
	n := len(cat.KeepAlivePhrases)
	for i := 0; i < n*2; i++ {
		got := c.PickKeepAlive(cat, i)
		want := cat.KeepAlivePhrases[i%n]
		if got != want {
			t.Errorf("PickKeepAlive(%d) = %q, want %q", i, got, want)
		}
	}
}

func TestCounter(t *testing.T) {
	var c Counter
	for i := 0; i < 5; i++ {
		if got := c.Next(); got != i {
			t.Errorf("Next() = %d, want %d", got, i)
		}
	}
}
