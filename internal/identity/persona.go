// Package identity loads the persona identity block the Agent prepends to
// every cognitive stage's system prompt (spec.md §4.4's "persona identity
// and a stage-specific instruction block", consumed as core.Persona).
//
// Adapted from the teacher's internal/agent/identity.go: the same
// IDENTITY.md bullet-list parsing (`- **Key**: value`, placeholder
// detection, markdown-bold stripping), renamed from a display-profile
// reader (Name/Emoji/Theme/Creature/Vibe/Avatar for a chat UI) into a
// persona renderer that also captures the free-form body text as system
// prompt instructions, since spec.md's Persona has no concept of an emoji
// or avatar.
package identity

import (
	"os"
	"path/filepath"
	"strings"
)

// DefaultFilename is the standard filename for an agent's persona file.
const DefaultFilename = "IDENTITY.md"

// placeholders are template values left unedited by the user; they parse as
// absent rather than as real persona content.
var placeholders = map[string]bool{
	"pick something you like":                                     true,
	"ai? robot? familiar? ghost in the machine? something weirder?": true,
	"how do you come across? sharp? warm? chaotic? calm?":           true,
	"your signature - pick one that feels right":                   true,
}

// Persona is a loaded identity block: short metadata fields plus whatever
// free-form instruction text follows the metadata bullets.
type Persona struct {
	Name         string
	Vibe         string
	Instructions string
}

// Load reads and parses path. A missing file is not an error — it yields a
// zero Persona, rendering to an empty identity block.
func Load(path string) (Persona, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Persona{}, nil
		}
		return Persona{}, err
	}
	return Parse(string(content)), nil
}

// LoadFromWorkspace reads DefaultFilename from workspace.
func LoadFromWorkspace(workspace string) (Persona, error) {
	return Load(filepath.Join(workspace, DefaultFilename))
}

// Parse extracts a Persona from IDENTITY.md content: `- **Name**: value`
// and `- **Vibe**: value` bullets are metadata; every other non-heading
// line, including bullets with any other key, is treated as instruction
// prose.
func Parse(content string) Persona {
	var p Persona
	var body []string

	for _, rawLine := range strings.Split(content, "\n") {
		line := strings.TrimSpace(rawLine)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if strings.HasPrefix(line, "-") || strings.HasPrefix(line, "*") {
			if key, value, ok := parseBullet(line); ok {
				switch key {
				case "name":
					p.Name = value
				case "vibe":
					p.Vibe = value
				}
				continue
			}
		}

		body = append(body, rawLine)
	}

	p.Instructions = strings.TrimSpace(strings.Join(body, "\n"))
	return p
}

func parseBullet(line string) (key, value string, ok bool) {
	line = strings.TrimPrefix(line, "-")
	line = strings.TrimPrefix(line, "*")
	line = strings.TrimSpace(line)

	colonIdx := strings.Index(line, ":")
	if colonIdx < 0 {
		return "", "", false
	}

	key = strings.ToLower(stripMarkdownBold(strings.TrimSpace(line[:colonIdx])))
	value = normalizeValue(line[colonIdx+1:])
	if key != "name" && key != "vibe" {
		return "", "", false
	}
	if isPlaceholder(value) {
		return key, "", true
	}
	return key, value, true
}

func stripMarkdownBold(s string) string {
	s = strings.TrimPrefix(s, "**")
	s = strings.TrimSuffix(s, "**")
	return s
}

func normalizeValue(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			s = s[1 : len(s)-1]
		}
	}
	return s
}

func isPlaceholder(value string) bool {
	if value == "" {
		return true
	}
	return placeholders[strings.ToLower(value)]
}

// Render composes the identity text core.Persona.Identity expects: a short
// "you are <name>, <vibe>" preamble (when set) followed by the free-form
// instructions.
func (p Persona) Render() string {
	var parts []string
	switch {
	case p.Name != "" && p.Vibe != "":
		parts = append(parts, "You are "+p.Name+". Your tone is "+p.Vibe+".")
	case p.Name != "":
		parts = append(parts, "You are "+p.Name+".")
	case p.Vibe != "":
		parts = append(parts, "Your tone is "+p.Vibe+".")
	}
	if p.Instructions != "" {
		parts = append(parts, p.Instructions)
	}
	return strings.Join(parts, "\n\n")
}
