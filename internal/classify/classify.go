// Package classify implements the regex/keyword classifier pack:
// security classification, memory type, urgency, domain, priority, entity
// extraction, and tagging. Every pattern is compiled once at package init
// and shared read-only across goroutines.
package classify

import (
	"regexp"
	"strings"

	"engram/internal/memory"
)

// Result is everything the classifier produces for one piece of text.
type Result struct {
	Classification memory.Classification
	Type           memory.MemoryType
	Urgency        memory.Urgency
	Domain         memory.Domain
	Priority       float64
	Entities       []string
	Tags           []string
}

// Context carries the caller-provided hint used to distinguish private from
// public when no secret pattern matches.
type Context struct {
	AgentID string
	HasUser bool
}

var secretPatterns = compileAll([]string{
	`(?i)\bpassword\s*[:=]?\s*\S+`,
	`(?i)\bapi[_-]?key\s*[:=]?\s*\S+`,
	`(?i)\bsecret\s*[:=]?\s*\S+`,
	`(?i)\btoken\s*[:=]?\s*\S+`,
	`\b\d{3}-\d{2}-\d{4}\b`,          // SSN-shaped
	`\b(?:\d[ -]*?){13,16}\b`,        // card-shaped
	`(?i)\bprivate[_-]?key\b`,
	`-----BEGIN [A-Z ]*PRIVATE KEY-----`,
})

var typePatterns = []struct {
	t    memory.MemoryType
	rexs []*regexp.Regexp
}{
	{memory.TypeCore, compileAll([]string{`(?i)\balways remember\b`, `(?i)\bcore (?:fact|rule|principle)\b`, `(?i)\bnever forget\b`})},
	{memory.TypeProcedural, compileAll([]string{`(?i)\bstep \d+\b`, `(?i)\bhow to\b`, `(?i)\bprocedure\b`, `(?i)\bfirst,? .* then\b`})},
	{memory.TypePreference, compileAll([]string{`(?i)\bi (?:prefer|like|dislike|hate|love|want)\b`, `(?i)\bmy favorite\b`})},
	{memory.TypeRelationship, compileAll([]string{`(?i)\bis (?:my|the) (?:boss|manager|colleague|friend|partner)\b`, `(?i)\bworks with\b`, `(?i)\breports to\b`})},
	{memory.TypeProfile, compileAll([]string{`(?i)\bmy name is\b`, `(?i)\bi am a\b`, `(?i)\bi work at\b`, `(?i)\bi live in\b`})},
	{memory.TypeEpisodic, compileAll([]string{`(?i)\byesterday\b`, `(?i)\blast (?:week|month|night)\b`, `(?i)\bon \d{4}-\d{2}-\d{2}\b`, `(?i)\bhappened\b`})},
}

var urgencyPatterns = []struct {
	u    memory.Urgency
	rexs []*regexp.Regexp
}{
	{memory.UrgencyCritical, compileAll([]string{`(?i)\burgent\b`, `(?i)\bcritical\b`, `(?i)\bimmediately\b`, `(?i)\basap\b`, `(?i)\bdown\b.*\bproduction\b`})},
	{memory.UrgencyImportant, compileAll([]string{`(?i)\bimportant\b`, `(?i)\bplease (?:note|remember)\b`, `(?i)\bmake sure\b`})},
	{memory.UrgencyBackground, compileAll([]string{`(?i)\bfor reference\b`, `(?i)\bno rush\b`, `(?i)\bfyi\b`, `(?i)\bsome day\b`})},
}

var domainKeywords = map[memory.Domain][]string{
	memory.DomainTechnical: {"server", "database", "api", "code", "deploy", "bug", "error", "config", "port", "ip address"},
	memory.DomainPersonal:  {"family", "birthday", "health", "hobby", "favorite", "friend"},
	memory.DomainProject:   {"project", "deadline", "milestone", "sprint", "roadmap", "deliverable"},
	memory.DomainKnowledge: {"fact", "definition", "means", "is defined as", "concept"},
}

var urgencyScore = map[memory.Urgency]float64{
	memory.UrgencyCritical:   0.9,
	memory.UrgencyImportant:  0.6,
	memory.UrgencyReference:  0.3,
	memory.UrgencyBackground: 0.1,
}

var domainBoost = map[memory.Domain]float64{
	memory.DomainTechnical: 0.1,
	memory.DomainProject:   0.1,
	memory.DomainPersonal:  0.0,
	memory.DomainKnowledge: 0.0,
	memory.DomainGeneral:   0.0,
}

var negationTokens = []string{"not", "no", "never", "isn't", "aren't", "wasn't", "weren't", "don't", "doesn't", "didn't", "can't", "won't"}

var (
	ipPattern      = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
	portPattern    = regexp.MustCompile(`(?i)\bport\s+(\d{1,5})\b`)
	isoDatePattern = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`)
	naturalDatePattern = regexp.MustCompile(`(?i)\b(?:jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\s+\d{1,2}(?:st|nd|rd|th)?,?\s*\d{0,4}\b`)
	versionPattern = regexp.MustCompile(`\bv?\d+\.\d+(?:\.\d+){0,2}\b`)
	emailPattern   = regexp.MustCompile(`\b[\w.+-]+@[\w-]+\.[\w.-]+\b`)
	urlPattern     = regexp.MustCompile(`\bhttps?://[^\s]+\b`)
)

var techTermVocab = []string{
	"kubernetes", "docker", "redis", "postgres", "postgresql", "kafka", "grpc", "http", "tcp", "udp",
	"json", "yaml", "graphql", "oauth", "jwt", "webhook", "microservice", "latency", "throughput",
}

var tagRules = map[string][]*regexp.Regexp{
	"security":  compileAll([]string{`(?i)\bauth\b`, `(?i)\bsecurity\b`, `(?i)\bvulnerab`}),
	"incident":  compileAll([]string{`(?i)\bincident\b`, `(?i)\boutage\b`, `(?i)\bdown\b`}),
	"decision":  compileAll([]string{`(?i)\bdecided\b`, `(?i)\bwe will\b`, `(?i)\bchose\b`}),
}

func compileAll(patterns []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(p)
	}
	return out
}

func anyMatch(rexs []*regexp.Regexp, text string) bool {
	for _, r := range rexs {
		if r.MatchString(text) {
			return true
		}
	}
	return false
}

func countMatches(rexs []*regexp.Regexp, text string) int {
	n := 0
	for _, r := range rexs {
		if r.MatchString(text) {
			n++
		}
	}
	return n
}

// Security classifies text as secret, private, or public. Secret is terminal.
func Security(text string, ctx Context) memory.Classification {
	if anyMatch(secretPatterns, text) {
		return memory.ClassSecret
	}
	if ctx.AgentID != "" || ctx.HasUser {
		return memory.ClassPrivate
	}
	return memory.ClassPublic
}

// Type classifies the memory type; first matching pattern set wins in the
// order core, procedural, preference, relationship, profile, episodic,
// defaulting to semantic.
func Type(text string) memory.MemoryType {
	for _, tp := range typePatterns {
		if anyMatch(tp.rexs, text) {
			return tp.t
		}
	}
	return memory.TypeSemantic
}

// UrgencyOf classifies urgency: critical, important, background, else reference.
func UrgencyOf(text string) memory.Urgency {
	for _, up := range urgencyPatterns {
		if anyMatch(up.rexs, text) {
			return up.u
		}
	}
	return memory.UrgencyReference
}

// DomainOf classifies domain by keyword sets, defaulting to knowledge.
func DomainOf(text string) memory.Domain {
	lower := strings.ToLower(text)
	for _, d := range []memory.Domain{memory.DomainTechnical, memory.DomainProject, memory.DomainPersonal, memory.DomainKnowledge} {
		for _, kw := range domainKeywords[d] {
			if strings.Contains(lower, kw) {
				return d
			}
		}
	}
	return memory.DomainKnowledge
}

// Priority combines urgency and domain into a clamped [0,1] score.
func Priority(u memory.Urgency, d memory.Domain) float64 {
	p := urgencyScore[u] + domainBoost[d]
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	return p
}

// Entities extracts IPs, ports, dates, version strings, emails, URLs, and
// tech-term vocabulary hits. Version matches that are IP-shaped are dropped.
func Entities(text string) []string {
	seen := map[string]bool{}
	var out []string
	add := func(s string) {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, m := range ipPattern.FindAllString(text, -1) {
		add(m)
	}
	for _, m := range portPattern.FindAllStringSubmatch(text, -1) {
		add("port " + m[1])
	}
	for _, m := range isoDatePattern.FindAllString(text, -1) {
		add(m)
	}
	for _, m := range naturalDatePattern.FindAllString(text, -1) {
		add(m)
	}
	for _, m := range versionPattern.FindAllString(text, -1) {
		if !ipPattern.MatchString(m) {
			add(m)
		}
	}
	for _, m := range emailPattern.FindAllString(text, -1) {
		add(m)
	}
	for _, m := range urlPattern.FindAllString(text, -1) {
		add(m)
	}
	lower := strings.ToLower(text)
	for _, term := range techTermVocab {
		if strings.Contains(lower, term) {
			add(term)
		}
	}
	return out
}

// Tags returns the domain plus any tag whose rule patterns match.
func Tags(text string, d memory.Domain) []string {
	tags := []string{string(d)}
	for name, rexs := range tagRules {
		if anyMatch(rexs, text) {
			tags = append(tags, name)
		}
	}
	return tags
}

// HasNegation reports whether text contains any negation token, used by the
// dedup conflict check.
func HasNegation(text string) bool {
	lower := strings.ToLower(text)
	for _, tok := range negationTokens {
		if strings.Contains(lower, tok) {
			return true
		}
	}
	return false
}

// Classify runs the full pipeline and returns a Result.
func Classify(text string, ctx Context) Result {
	d := DomainOf(text)
	u := UrgencyOf(text)
	return Result{
		Classification: Security(text, ctx),
		Type:           Type(text),
		Urgency:        u,
		Domain:         d,
		Priority:       Priority(u, d),
		Entities:       Entities(text),
		Tags:           Tags(text, d),
	}
}

// MatchCount exposes the raw count of patterns in rexs that match text. The
// intent router keeps its own pattern sets and counts their matches itself.
func MatchCount(rexs []*regexp.Regexp, text string) int {
	return countMatches(rexs, text)
}
