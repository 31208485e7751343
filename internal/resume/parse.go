package resume

import (
	"regexp"
	"strings"
	"unicode"
)

type Contact struct {
	Emails []string `json:"email" dynamodbav:"Emails,omitempty"`
	Phones []string `json:"phone" dynamodbav:"Phones,omitempty"`
}

func (c Contact) Empty() bool {
	return len(c.Emails) == 0 && len(c.Phones) == 0
}

// Resume is the structured data extracted from one resume.
type Resume struct {
	Name           string   `json:"name,omitempty" dynamodbav:"Name,omitempty"`
	Contact        Contact  `json:"contact_info" dynamodbav:"Contact"`
	Skills         []string `json:"skills,omitempty" dynamodbav:"Skills,omitempty"`
	Experience     string   `json:"experience,omitempty" dynamodbav:"Experience,omitempty"`
	Education      []string `json:"education,omitempty" dynamodbav:"Education,omitempty"`
	Projects       string   `json:"projects,omitempty" dynamodbav:"Projects,omitempty"`
	Certifications string   `json:"certifications,omitempty" dynamodbav:"Certifications,omitempty"`
}

// Empty reports whether nothing at all was extracted.
func (r Resume) Empty() bool {
	return r.Name == "" && r.Contact.Empty() && len(r.Skills) == 0 && r.Experience == "" &&
		len(r.Education) == 0 && r.Projects == "" && r.Certifications == ""
}

var (
	emailRe     = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	phoneRe     = regexp.MustCompile(`\+?\d[\d -]{8,}\d`)
	nameRe      = regexp.MustCompile(`^[A-Z][A-Za-z]+ [A-Z][A-Za-z]+$`)
	bulletRe    = regexp.MustCompile(`(?m)^\s*[-•*▪●◦·]\s+`)
	skillSplit  = regexp.MustCompile(`[,\n•;|]`)
	datedItemRe = regexp.MustCompile(`\b(?:\d{4}|\d{1,2}/\d{1,2}/\d{2,4})\b`)
	educationRe = regexp.MustCompile(`(?is)\b(B\.Sc|B\.Eng|M\.Sc|M\.Eng|Bachelor|Master|Ph\.D|Doctorate|Diploma)\b.{0,120}?(Computer Science|Engineering|Data Science|Information Technology|Business|Mathematics)`)
	spaceRe     = regexp.MustCompile(`\s+`)
)

var (
	skillHeaders      = []string{"TECHNICAL SKILLS", "SKILLS", "CORE SKILLS", "KEY SKILLS", "SKILLS & TOOLS"}
	experienceHeaders = []string{"EXPERIENCE", "EMPLOYMENT HISTORY", "WORK HISTORY", "PROFESSIONAL EXPERIENCE", "CAREER SUMMARY", "WORK EXPERIENCE"}
	projectHeaders    = []string{"RELEVANT PROJECTS", "PROJECTS", "PERSONAL PROJECTS", "ACADEMIC PROJECTS"}
	certHeaders       = []string{"CERTIFICATIONS", "CERTIFICATION", "CERTIFICATES", "CERTIFICATE", "COURSES", "COURSE", "ACCREDITATIONS", "ACHIEVEMENTS", "ACHIEVEMENTS & CERTIFICATIONS"}
	otherHeaders      = []string{"EDUCATION", "SUMMARY", "PROFILE", "OBJECTIVE", "INTERESTS", "REFERENCES", "PUBLICATIONS", "AWARDS"}
)

// Parse extracts structured fields from resume text.
func Parse(text string) Resume {
	secs := splitSections(text)
	return Resume{
		Name:           extractName(text),
		Contact:        extractContact(text),
		Skills:         extractSkills(secs),
		Experience:     joinBodies(secs, experienceHeaders, "\n\n"),
		Education:      extractEducation(text),
		Projects:       firstBody(secs, projectHeaders),
		Certifications: certificationLines(secs),
	}
}

func extractContact(text string) Contact {
	return Contact{
		Emails: uniq(emailRe.FindAllString(text, -1)),
		Phones: uniq(trimAll(phoneRe.FindAllString(text, -1))),
	}
}

// extractName looks for a "First Last" line near the top, then falls back to
// the first short line made of capitalised words.
func extractName(text string) string {
	lines := topLines(text, 5)
	for _, l := range lines {
		if nameRe.MatchString(l) {
			return l
		}
	}
	for _, l := range lines {
		if looksLikeName(l) {
			return l
		}
	}
	return ""
}

func looksLikeName(line string) bool {
	words := strings.Fields(line)
	if len(words) < 2 || len(words) > 4 {
		return false
	}
	if isHeader(line) && isKnownHeader(line) {
		return false
	}
	for _, w := range words {
		for i, r := range w {
			switch {
			case i == 0 && !unicode.IsUpper(r):
				return false
			case unicode.IsLetter(r), r == '-', r == '\'', r == '.':
			default:
				return false
			}
		}
	}
	return true
}

func extractSkills(secs []section) []string {
	body := firstBody(secs, skillHeaders)
	if body == "" {
		return nil
	}

	var out []string
	for _, line := range strings.Split(body, "\n") {
		// "Languages: Go, Python" -> "Go, Python"
		if i := strings.Index(line, ":"); i >= 0 {
			line = line[i+1:]
		}
		for _, s := range skillSplit.Split(line, -1) {
			s = strings.Trim(strings.TrimSpace(s), ".")
			if s == "" || datedItemRe.MatchString(s) {
				continue
			}
			out = append(out, s)
		}
	}
	return uniq(out)
}

func extractEducation(text string) []string {
	var out []string
	for _, m := range educationRe.FindAllString(text, -1) {
		m = spaceRe.ReplaceAllString(removeBullets(m), " ")
		out = append(out, strings.TrimSpace(m))
	}
	return uniq(out)
}

func certificationLines(secs []section) string {
	body := joinBodies(secs, certHeaders, "\n")
	if body == "" {
		return ""
	}
	var lines []string
	for _, l := range strings.Split(body, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	return strings.Join(lines, "\n")
}

type section struct {
	title string // upper-cased, trailing colon removed
	body  string
}

// splitSections cuts text at header lines. Text before the first header is dropped.
func splitSections(text string) []section {
	var (
		secs []section
		cur  *section
		buf  []string
	)
	flush := func() {
		if cur != nil {
			cur.body = strings.TrimSpace(removeBullets(strings.Join(buf, "\n")))
			secs = append(secs, *cur)
		}
		buf = nil
	}

	for _, line := range strings.Split(text, "\n") {
		if isHeader(line) {
			flush()
			cur = &section{title: headerTitle(line)}
			// "Skills: Go, SQL" keeps its inline content
			if _, rest, ok := strings.Cut(line, ":"); ok && strings.TrimSpace(rest) != "" {
				buf = append(buf, rest)
			}
			continue
		}
		buf = append(buf, line)
	}
	flush()
	return secs
}

func isHeader(line string) bool {
	title := headerTitle(line)
	if title == "" || len(strings.Fields(title)) > 5 {
		return false
	}
	if isKnownHeader(line) {
		return true
	}
	// an all-caps line such as "VOLUNTEERING" also starts a section
	trimmed := strings.TrimSuffix(strings.TrimSpace(line), ":")
	hasLetter := false
	for _, r := range trimmed {
		switch {
		case unicode.IsLetter(r):
			if !unicode.IsUpper(r) {
				return false
			}
			hasLetter = true
		case r == ' ', r == '&', r == '/':
		default:
			return false
		}
	}
	return hasLetter && len(trimmed) > 3
}

func isKnownHeader(line string) bool {
	title := headerTitle(line)
	for _, group := range [][]string{skillHeaders, experienceHeaders, projectHeaders, certHeaders, otherHeaders} {
		for _, h := range group {
			if title == h {
				return true
			}
		}
	}
	return false
}

func headerTitle(line string) string {
	line = strings.TrimSpace(line)
	if head, _, ok := strings.Cut(line, ":"); ok {
		line = head
	}
	return strings.ToUpper(spaceRe.ReplaceAllString(strings.TrimSpace(line), " "))
}

func firstBody(secs []section, titles []string) string {
	for _, s := range secs {
		if contains(titles, s.title) && s.body != "" {
			return s.body
		}
	}
	return ""
}

func joinBodies(secs []section, titles []string, sep string) string {
	var parts []string
	for _, s := range secs {
		if contains(titles, s.title) && s.body != "" {
			parts = append(parts, s.body)
		}
	}
	return strings.Join(parts, sep)
}

func topLines(text string, n int) []string {
	var out []string
	for _, l := range strings.Split(strings.TrimSpace(text), "\n") {
		if l = strings.TrimSpace(l); l == "" {
			continue
		}
		out = append(out, l)
		if len(out) == n {
			break
		}
	}
	return out
}

func removeBullets(s string) string {
	return bulletRe.ReplaceAllString(s, "")
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func trimAll(in []string) []string {
	for i := range in {
		in[i] = strings.TrimSpace(in[i])
	}
	return in
}

// uniq drops blanks and case-insensitive duplicates, keeping first-seen order.
func uniq(in []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(in))
	for _, v := range in {
		k := strings.ToLower(strings.TrimSpace(v))
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, strings.TrimSpace(v))
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
