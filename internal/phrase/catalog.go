// Package phrase holds the keyword-matched filler catalog used to choose
// the buffer phrase and keep-alive phrases for a turn. All phrases end with
// a trailing space, required by the downstream TTS so word boundaries stay
// clean when the phrase is concatenated with whatever follows it.
package phrase

import (
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
)

// Category groups a keyword set with the filler phrases spoken while the
// LLM is working on a turn that matched those keywords.
type Category struct {
	Name             string   `json:"name" yaml:"name"`
	Keywords         []string `json:"keywords" yaml:"keywords"`
	InitialPhrases   []string `json:"initialPhrases" yaml:"initialPhrases"`
	KeepAlivePhrases []string `json:"keepAlivePhrases" yaml:"keepAlivePhrases"`
}

const fallbackName = "fallback"

// defaultCatalog is the compile-time table. Order defines match priority:
// matchCategory returns the first category whose keyword list has a
// substring hit.
var defaultCatalog = []Category{
	{Name: "email", Keywords: []string{"email", "inbox", "mail"}, InitialPhrases: []string{"Checking your inbox... ", "Pulling up your emails... ", "Let me look at your mail... "}, KeepAlivePhrases: []string{"Still going through your inbox... ", "Almost there with your emails... "}},
	{Name: "calendar", Keywords: []string{"calendar", "schedule", "meeting", "appointment"}, InitialPhrases: []string{"Checking your calendar... ", "Let me look at your schedule... "}, KeepAlivePhrases: []string{"Still checking your calendar... ", "Just about done with your schedule... "}},
	{Name: "weather", Keywords: []string{"weather", "forecast", "temperature", "rain"}, InitialPhrases: []string{"Checking the weather... ", "Let me pull up the forecast... "}, KeepAlivePhrases: []string{"Still checking the forecast... "}},
	{Name: "messaging", Keywords: []string{"text", "message", "sms", "slack"}, InitialPhrases: []string{"Looking at your messages... ", "Checking that conversation... "}, KeepAlivePhrases: []string{"Still going through your messages... "}},
	{Name: "tasks", Keywords: []string{"task", "todo", "to-do", "reminder"}, InitialPhrases: []string{"Checking your tasks... ", "Pulling up your to-do list... "}, KeepAlivePhrases: []string{"Still working through your tasks... "}},
	{Name: "health", Keywords: []string{"health", "workout", "steps", "sleep", "heart rate"}, InitialPhrases: []string{"Checking your health data... ", "Let me look at that for you... "}, KeepAlivePhrases: []string{"Still pulling up your health data... "}},
	{Name: "crypto", Keywords: []string{"crypto", "bitcoin", "ethereum", "portfolio"}, InitialPhrases: []string{"Checking the markets... ", "Let me pull up your portfolio... "}, KeepAlivePhrases: []string{"Still checking the markets... "}},
	{Name: "search", Keywords: []string{"search", "look up", "google"}, InitialPhrases: []string{"Searching for that... ", "Let me look that up... "}, KeepAlivePhrases: []string{"Still searching... "}},
	{Name: "code", Keywords: []string{"code", "bug", "function", "repo", "deploy"}, InitialPhrases: []string{"Looking at the code... ", "Let me dig into that... "}, KeepAlivePhrases: []string{"Still digging through the code... "}},
	{Name: "notes", Keywords: []string{"note", "notes", "jot down"}, InitialPhrases: []string{"Checking your notes... ", "Pulling up your notes... "}, KeepAlivePhrases: []string{"Still going through your notes... "}},
	{Name: "browser", Keywords: []string{"browser", "tab", "website", "page"}, InitialPhrases: []string{"Checking your browser... ", "Let me take a look at that tab... "}, KeepAlivePhrases: []string{"Still loading that page... "}},
	{Name: "memory", Keywords: []string{"remember", "recall", "earlier"}, InitialPhrases: []string{"Let me think back... ", "Checking what we talked about... "}, KeepAlivePhrases: []string{"Still piecing that together... "}},
	{Name: "file", Keywords: []string{"file", "document", "folder", "attachment"}, InitialPhrases: []string{"Checking that file... ", "Let me open that up... "}, KeepAlivePhrases: []string{"Still going through the file... "}},
	{Name: "music", Keywords: []string{"music", "song", "playlist", "spotify"}, InitialPhrases: []string{"Checking your music... ", "Let me pull that up... "}, KeepAlivePhrases: []string{"Still loading your playlist... "}},
	{Name: "image", Keywords: []string{"image", "photo", "picture"}, InitialPhrases: []string{"Looking at that image... ", "Let me take a look... "}, KeepAlivePhrases: []string{"Still looking that over... "}},
	{Name: "voice", Keywords: []string{"voice", "call", "speak"}, InitialPhrases: []string{"One second... ", "Let me get that for you... "}, KeepAlivePhrases: []string{"Still working on it... "}},
	{Name: "whatsapp", Keywords: []string{"whatsapp"}, InitialPhrases: []string{"Checking WhatsApp... ", "Let me look at WhatsApp... "}, KeepAlivePhrases: []string{"Still checking WhatsApp... "}},
	{Name: "twitter", Keywords: []string{"twitter", "tweet", "x.com"}, InitialPhrases: []string{"Checking that... ", "Let me pull that up... "}, KeepAlivePhrases: []string{"Still checking... "}},
	{Name: fallbackName, Keywords: nil, InitialPhrases: []string{"Let me look into that... ", "One moment... ", "Working on it... "}, KeepAlivePhrases: []string{"Still working on it... ", "Almost there... "}},
}

// Catalog is an immutable-after-load keyword→phrase table. lastIdx holds
// the most recent initial-phrase index per category, shared process-wide
// (not per session) and guarded by mu.
type Catalog struct {
	mu         sync.RWMutex
	categories []Category
	lastIdx    map[string]int
}

func New() *Catalog {
	return newFrom(defaultCatalog)
}

func newFrom(categories []Category) *Catalog {
	c := &Catalog{categories: categories, lastIdx: make(map[string]int, len(categories))}
	for i := range c.categories {
		c.lastIdx[c.categories[i].Name] = -1
	}
	return c
}

// MatchCategory lowercases text and returns the first category whose
// keyword list has a substring hit, in table order, otherwise fallback.
func (c *Catalog) MatchCategory(text string) Category {
	c.mu.RLock()
	defer c.mu.RUnlock()
	lower := strings.ToLower(text)
	for _, cat := range c.categories {
		for _, kw := range cat.Keywords {
			if strings.Contains(lower, kw) {
				return cat
			}
		}
	}
	return c.fallback()
}

func (c *Catalog) fallback() Category {
	for _, cat := range c.categories {
		if cat.Name == fallbackName {
			return cat
		}
	}
	return Category{Name: fallbackName, InitialPhrases: []string{"One moment... "}}
}

// PickInitial returns a phrase chosen uniformly at random but never equal
// to the most recently returned initial phrase for this category, unless
// the category has only a single phrase.
func (c *Catalog) PickInitial(cat Category) string {
	if len(cat.InitialPhrases) == 0 {
		return "One moment... "
	}
	if len(cat.InitialPhrases) == 1 {
		return cat.InitialPhrases[0]
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(cat.InitialPhrases)
	last := c.lastIdx[cat.Name]
	var idx int
	if last < 0 || last >= n {
		idx = rand.Intn(n)
	} else {
		// Draw uniformly from the n-1 phrases other than last.
		idx = rand.Intn(n - 1)
		if idx >= last {
			idx++
		}
	}
	c.lastIdx[cat.Name] = idx
	return cat.InitialPhrases[idx]
}

// PickKeepAlive returns a deterministic round-robin phrase for the counter.
func (c *Catalog) PickKeepAlive(cat Category, counter int) string {
	if len(cat.KeepAlivePhrases) == 0 {
		return "Still working on it... "
	}
	return cat.KeepAlivePhrases[counter%len(cat.KeepAlivePhrases)]
}

// Counter is a per-turn monotonic counter; turns own their own
// instance so keep-alive round-robin is deterministic per-turn rather than
// shared process-wide.
type Counter struct {
	n atomic.Int64
}

func (c *Counter) Next() int {
	return int(c.n.Add(1) - 1)
}
