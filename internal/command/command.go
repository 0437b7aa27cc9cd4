// Package command extracts file-operation commands from free-form model output.
//
// The markup is a small XML-like vocabulary:
//
//	<create_file path="a.txt">body</create_file>
//	<read_file path="a.txt" />
//	<again reason="more work" />
//
// Parsing never fails. Anything that is not a complete, recognized tag is
// treated as plain text, so partially streamed output simply yields fewer
// commands.
package command

import (
	"regexp"
	"sort"
	"strings"
)

// Recognized command names.
const (
	CreateFile = "CREATE_FILE"
	ReadFile   = "READ_FILE"
	UpdateFile = "UPDATE_FILE"
	DeleteFile = "DELETE_FILE"
	ListFiles  = "LIST_FILES"
	ListDir    = "LIST_DIR"
	Again      = "AGAIN"
)

// Names lists the command vocabulary in a stable order.
var Names = []string{CreateFile, ReadFile, UpdateFile, DeleteFile, ListFiles, ListDir, Again}

// Command is a single parsed tag.
type Command struct {
	Name        string
	Attributes  map[string]string
	Body        string
	HasBody     bool
	SelfClosing bool
}

// Attr returns the attribute value and whether it was present at all.
func (c Command) Attr(key string) (string, bool) {
	if c.Attributes == nil {
		return "", false
	}
	v, ok := c.Attributes[key]
	return v, ok
}

// Path is shorthand for the path attribute.
func (c Command) Path() string {
	v, _ := c.Attr("path")
	return v
}

// Key identifies a command by name and path. Two commands with equal keys
// target the same resource.
func (c Command) Key() string {
	return c.Name + "\x00" + c.Path()
}

var (
	openTagRe = regexp.MustCompile(`(?is)<\s*(` + strings.Join(Names, "|") + `)\b([^>]*)>`)
	attrRe    = regexp.MustCompile(`([A-Za-z_][\w-]*)\s*=\s*(?:"([^"]*)"|'([^']*)')`)

	closeTagRes = func() map[string]*regexp.Regexp {
		m := make(map[string]*regexp.Regexp, len(Names))
		for _, name := range Names {
			m[name] = regexp.MustCompile(`(?i)<\s*/\s*` + name + `\s*>`)
		}
		return m
	}()
)

// HasCommands reports whether text contains at least one opening tag from the
// vocabulary. It is cheap enough to call after every streamed fragment.
func HasCommands(text string) bool {
	return openTagRe.MatchString(text)
}

// Parse returns every complete command in text, in document order.
func Parse(text string) []Command {
	var cmds []Command
	pos := 0
	for pos < len(text) {
		loc := openTagRe.FindStringSubmatchIndex(text[pos:])
		if loc == nil {
			break
		}
		tagStart := pos + loc[0]
		tagEnd := pos + loc[1]
		name := strings.ToUpper(text[pos+loc[2] : pos+loc[3]])
		rawAttrs := text[pos+loc[4] : pos+loc[5]]

		selfClosing := strings.HasSuffix(strings.TrimSpace(rawAttrs), "/")
		if selfClosing {
			rawAttrs = strings.TrimSuffix(strings.TrimSpace(rawAttrs), "/")
			cmds = append(cmds, Command{
				Name:        name,
				Attributes:  parseAttrs(rawAttrs),
				SelfClosing: true,
			})
			pos = tagEnd
			continue
		}

		closeLoc := closeTagRes[name].FindStringIndex(text[tagEnd:])
		if closeLoc == nil {
			// Closing tag has not arrived yet; skip past this opener.
			pos = tagStart + 1
			continue
		}
		cmds = append(cmds, Command{
			Name:       name,
			Attributes: parseAttrs(rawAttrs),
			Body:       text[tagEnd : tagEnd+closeLoc[0]],
			HasBody:    true,
		})
		pos = tagEnd + closeLoc[1]
	}
	return cmds
}

func parseAttrs(raw string) map[string]string {
	attrs := make(map[string]string)
	for _, loc := range attrRe.FindAllStringSubmatchIndex(raw, -1) {
		key := strings.ToLower(raw[loc[2]:loc[3]])
		if loc[4] >= 0 {
			attrs[key] = raw[loc[4]:loc[5]]
		} else {
			attrs[key] = raw[loc[6]:loc[7]]
		}
	}
	return attrs
}

// Describe renders a short human-readable summary, e.g. "CREATE_FILE path=a.txt".
func (c Command) Describe() string {
	keys := make([]string, 0, len(c.Attributes))
	for k := range c.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(c.Name)
	for _, k := range keys {
		b.WriteString(" ")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(c.Attributes[k])
	}
	return b.String()
}
