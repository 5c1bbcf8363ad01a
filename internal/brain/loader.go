package brain

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/npcmind/pkg/pattern"
)

// DefaultSource is the [pattern.Category.Source] of the embedded brain.
const DefaultSource = "default.aiml"

//go:embed default.aiml
var defaultBrain []byte

// Diagnostic describes one category or file that could not be loaded.
type Diagnostic struct {
	// Source is the file (or reader name) the problem was found in.
	Source string
	// Line is the 1-based line of the offending element, 0 when unknown.
	Line int
	// Err is the underlying problem.
	Err error
}

func (d Diagnostic) String() string {
	if d.Line > 0 {
		return fmt.Sprintf("%s:%d: %v", d.Source, d.Line, d.Err)
	}
	return fmt.Sprintf("%s: %v", d.Source, d.Err)
}

// LoadReport summarises a load. Malformed categories never abort a load;
// they are skipped and listed in Diagnostics.
type LoadReport struct {
	// Files is the number of files (or readers) read.
	Files int
	// Categories is the number of categories added to the engine.
	Categories int
	// Diagnostics lists everything that was skipped.
	Diagnostics []Diagnostic
}

func (r *LoadReport) merge(o LoadReport) {
	r.Files += o.Files
	r.Categories += o.Categories
	r.Diagnostics = append(r.Diagnostics, o.Diagnostics...)
}

// parsedFile is the compiled content of one category file, not yet applied
// to an engine.
type parsedFile struct {
	source     string
	categories []pattern.Category
	sets       map[string][]string
	bot        map[string]string
	diags      []Diagnostic
}

func (p *parsedFile) skip(line int, err error) {
	slog.Warn("brain: skipping category", "source", p.source, "line", line, "err", err)
	p.diags = append(p.diags, Diagnostic{Source: p.source, Line: line, Err: err})
}

// apply adds the file's sets, bot properties and categories to e.
func (e *Engine) apply(p parsedFile) LoadReport {
	for name, members := range p.sets {
		e.matcher.AddSet(name, members)
	}
	for k, v := range p.bot {
		e.matcher.SetBotProperty(k, v)
	}
	for _, c := range p.categories {
		e.matcher.Add(c)
	}
	return LoadReport{Files: 1, Categories: len(p.categories), Diagnostics: p.diags}
}

// LoadDefault loads the embedded default brain.
func (e *Engine) LoadDefault() (LoadReport, error) {
	return e.LoadAIML(DefaultSource, bytes.NewReader(defaultBrain))
}

// LoadAIML reads AIML categories from r. source names the reader in
// diagnostics and in [pattern.Category.Source]. An error is returned only
// when the document itself is not well-formed XML; categories parsed before
// the error are not applied.
func (e *Engine) LoadAIML(source string, r io.Reader) (LoadReport, error) {
	p, err := parseAIML(source, r)
	if err != nil {
		return LoadReport{}, err
	}
	return e.apply(p), nil
}

// LoadYAML reads a YAML category file from r.
//
// Example:
//
//	bot:
//	  name: Greta
//	sets:
//	  drink: [ale, mead, wine]
//	categories:
//	  - pattern: "I WANT <set>drink</set>"
//	    template: "One <star/>, coming up."
//	  - pattern: "YES"
//	    that: "WANT A ROOM"
//	    template: "That will be five silver."
func (e *Engine) LoadYAML(source string, r io.Reader) (LoadReport, error) {
	p, err := parseYAML(source, r)
	if err != nil {
		return LoadReport{}, err
	}
	return e.apply(p), nil
}

// LoadFiles loads category files. Each path may be a file, a directory
// (walked recursively for .aiml, .xml, .yaml and .yml files) or a glob.
// Files are parsed in parallel and applied in lexical path order, so the
// resulting declaration order is deterministic. Unreadable or malformed
// files become diagnostics; the returned error is non-nil only for a bad
// glob or a cancelled ctx.
func (e *Engine) LoadFiles(ctx context.Context, paths ...string) (LoadReport, error) {
	files, report, err := expandPaths(paths)
	if err != nil {
		return report, err
	}

	parsed := make([]parsedFile, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, path := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			parsed[i] = parseFile(path)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, fmt.Errorf("brain: load files: %w", err)
	}

	for _, p := range parsed {
		report.merge(e.apply(p))
	}
	slog.Info("brain: categories loaded",
		"files", report.Files,
		"categories", report.Categories,
		"skipped", len(report.Diagnostics),
	)
	return report, nil
}

func isCategoryFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".aiml", ".xml", ".yaml", ".yml":
		return true
	}
	return false
}

// expandPaths resolves files, directories and globs into a sorted,
// de-duplicated file list. Paths that cannot be resolved become
// diagnostics in the returned report.
func expandPaths(paths []string) ([]string, LoadReport, error) {
	var (
		report LoadReport
		files  []string
	)
	for _, p := range paths {
		matches := []string{p}
		if strings.ContainsAny(p, "*?[") {
			var err error
			matches, err = filepath.Glob(p)
			if err != nil {
				return nil, report, fmt.Errorf("brain: glob %q: %w", p, err)
			}
			if len(matches) == 0 {
				report.Diagnostics = append(report.Diagnostics, Diagnostic{Source: p, Err: errors.New("no files match")})
			}
		}
		for _, m := range matches {
			info, err := os.Stat(m)
			if err != nil {
				report.Diagnostics = append(report.Diagnostics, Diagnostic{Source: m, Err: err})
				continue
			}
			if !info.IsDir() {
				files = append(files, m)
				continue
			}
			err = filepath.WalkDir(m, func(path string, d fs.DirEntry, err error) error {
				if err != nil {
					report.Diagnostics = append(report.Diagnostics, Diagnostic{Source: path, Err: err})
					return nil
				}
				if !d.IsDir() && isCategoryFile(path) {
					files = append(files, path)
				}
				return nil
			})
			if err != nil {
				report.Diagnostics = append(report.Diagnostics, Diagnostic{Source: m, Err: err})
			}
		}
	}
	slices.Sort(files)
	return slices.Compact(files), report, nil
}

// parseFile reads and parses one file. Failures are reported as a
// diagnostic on an otherwise empty result.
func parseFile(path string) parsedFile {
	f, err := os.Open(path)
	if err != nil {
		return parsedFile{source: path, diags: []Diagnostic{{Source: path, Err: err}}}
	}
	defer f.Close()

	var p parsedFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		p, err = parseYAML(path, f)
	default:
		p, err = parseAIML(path, f)
	}
	if err != nil {
		slog.Warn("brain: skipping file", "path", path, "err", err)
		return parsedFile{source: path, diags: []Diagnostic{{Source: path, Err: err}}}
	}
	return p
}

// ─── AIML ────────────────────────────────────────────────────────────────────

type innerXML struct {
	Inner string `xml:",innerxml"`
}

type aimlCategory struct {
	Priority string   `xml:"priority,attr"`
	Pattern  innerXML `xml:"pattern"`
	That     innerXML `xml:"that"`
	Topic    innerXML `xml:"topic"`
	Template innerXML `xml:"template"`
}

// parseAIML streams r, compiling every <category>. Categories nested in a
// top-level <topic name="..."> inherit that topic unless they set their own.
func parseAIML(source string, r io.Reader) (parsedFile, error) {
	p := parsedFile{source: source}
	d := xml.NewDecoder(r)
	d.Entity = xml.HTMLEntity

	var topic string
	for {
		tok, err := d.Token()
		if err == io.EOF {
			return p, nil
		}
		if err != nil {
			line, _ := d.InputPos()
			return p, fmt.Errorf("brain: parse %q line %d: %w", source, line, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "topic":
				topic = attr(t, "name")
			case "category":
				line, _ := d.InputPos()
				var c aimlCategory
				if err := d.DecodeElement(&c, &t); err != nil {
					return p, fmt.Errorf("brain: parse %q line %d: %w", source, line, err)
				}
				if c.Topic.Inner == "" {
					c.Topic.Inner = topic
				}
				p.addAIML(c, line)
			}
		case xml.EndElement:
			if t.Name.Local == "topic" {
				topic = ""
			}
		}
	}
}

func (p *parsedFile) addAIML(c aimlCategory, line int) {
	priority := 0
	if c.Priority != "" {
		n, err := strconv.Atoi(strings.TrimSpace(c.Priority))
		if err != nil {
			p.skip(line, fmt.Errorf("invalid priority %q", c.Priority))
			return
		}
		priority = n
	}
	cat, err := compileCategory(c.Pattern.Inner, c.That.Inner, c.Topic.Inner, c.Template.Inner, priority, p.source)
	if err != nil {
		p.skip(line, err)
		return
	}
	cat.Line = line
	p.categories = append(p.categories, cat)
}

func attr(t xml.StartElement, name string) string {
	for _, a := range t.Attr {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

// ─── YAML ────────────────────────────────────────────────────────────────────

// CategoryFile is the YAML category file layout.
type CategoryFile struct {
	// Bot sets bot properties readable through <bot name="..."/>.
	Bot map[string]string `yaml:"bot"`
	// Sets registers word sets for <set> pattern elements.
	Sets map[string][]string `yaml:"sets"`
	// Categories is kept as raw nodes so a bad entry can be reported with
	// its line and skipped.
	Categories []yaml.Node `yaml:"categories"`
}

// CategorySpec is one category in a YAML category file.
type CategorySpec struct {
	Pattern  string `yaml:"pattern"`
	That     string `yaml:"that"`
	Topic    string `yaml:"topic"`
	Template string `yaml:"template"`
	Priority int    `yaml:"priority"`
}

func parseYAML(source string, r io.Reader) (parsedFile, error) {
	p := parsedFile{source: source}
	var cf CategoryFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cf); err != nil && !errors.Is(err, io.EOF) {
		return p, fmt.Errorf("brain: decode %q: %w", source, err)
	}
	p.sets = cf.Sets
	p.bot = cf.Bot
	for i := range cf.Categories {
		n := &cf.Categories[i]
		var spec CategorySpec
		if err := n.Decode(&spec); err != nil {
			p.skip(n.Line, err)
			continue
		}
		cat, err := compileCategory(spec.Pattern, spec.That, spec.Topic, spec.Template, spec.Priority, source)
		if err != nil {
			p.skip(n.Line, err)
			continue
		}
		cat.Line = n.Line
		p.categories = append(p.categories, cat)
	}
	return p, nil
}
