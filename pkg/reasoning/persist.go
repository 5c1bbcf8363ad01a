package reasoning

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Save writes every fact as one tab-separated line:
//
//	predicate<TAB>arg1,arg2<TAB>truth<TAB>confidence<TAB>relevance<TAB>derived
//
// Arguments containing commas, tabs or newlines cannot be represented and
// are rejected.
func (r *Reasoner) Save(w io.Writer) error {
	facts := r.Facts()
	bw := bufio.NewWriter(w)
	for _, f := range facts {
		for _, a := range f.Args {
			if strings.ContainsAny(a, ",\t\n") {
				return fmt.Errorf("reasoning: save: argument %q of %s cannot be stored", a, f.Predicate)
			}
		}
		fmt.Fprintf(bw, "%s\t%s\t%s\t%s\t%s\t%t\n",
			f.Predicate,
			strings.Join(f.Args, ","),
			strconv.FormatFloat(f.Value.Truth, 'g', -1, 64),
			strconv.FormatFloat(f.Value.Confidence, 'g', -1, 64),
			strconv.FormatFloat(f.Value.Relevance, 'g', -1, 64),
			f.Derived,
		)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("reasoning: save: %w", err)
	}
	return nil
}

// Load replaces the fact base with the facts read from rd. Rules are kept.
// Malformed lines are skipped and counted.
func (r *Reasoner) Load(rd io.Reader) (skipped int, err error) {
	var facts []Fact
	sc := bufio.NewScanner(rd)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		f, ok := parseFactLine(line)
		if !ok {
			skipped++
			continue
		}
		facts = append(facts, f)
	}
	if err := sc.Err(); err != nil {
		return skipped, fmt.Errorf("reasoning: load: %w", err)
	}

	r.mu.Lock()
	r.facts = nil
	r.byKey = make(map[string]int)
	r.byPred = make(map[string][]int)
	r.byEntity = make(map[string][]int)
	for _, f := range facts {
		r.putLocked(f)
	}
	r.mu.Unlock()

	for _, f := range facts {
		for _, a := range f.Args {
			r.embeddings.Get(a)
		}
	}
	return skipped, nil
}

func parseFactLine(line string) (Fact, bool) {
	fields := strings.Split(line, "\t")
	if len(fields) != 6 || fields[0] == "" {
		return Fact{}, false
	}
	var nums [3]float64
	for i := range nums {
		v, err := strconv.ParseFloat(fields[2+i], 64)
		if err != nil || v < 0 || v > 1 {
			return Fact{}, false
		}
		nums[i] = v
	}
	derived, err := strconv.ParseBool(fields[5])
	if err != nil {
		return Fact{}, false
	}
	var args []string
	if fields[1] != "" {
		args = strings.Split(fields[1], ",")
	}
	return Fact{
		Predicate: fields[0],
		Args:      args,
		Value:     LogicalValue{Truth: nums[0], Confidence: nums[1], Relevance: nums[2]},
		Derived:   derived,
	}, true
}

// RuleFile is the YAML document read by [LoadRules].
//
//	rules:
//	  - name: merchant-sells
//	    premises: ["occupation(?x, merchant)", "has(?x, ?item)"]
//	    conclusion: "sells(?x, ?item)"
//	    confidence: 0.9
//	facts:
//	  - fact: "occupation(Gwenno, merchant)"
//	    truth: 1
type RuleFile struct {
	Rules []RuleSpec `yaml:"rules"`
	Facts []FactSpec `yaml:"facts"`
}

// RuleSpec is one rule in a [RuleFile]. Formulas use [ParseFormula] syntax.
type RuleSpec struct {
	Name        string   `yaml:"name"`
	Premises    []string `yaml:"premises"`
	Conclusion  string   `yaml:"conclusion"`
	Confidence  float64  `yaml:"confidence"`
	Priority    int      `yaml:"priority"`
	Category    string   `yaml:"category"`
	Description string   `yaml:"description"`
}

// FactSpec is one ground fact in a [RuleFile]. A missing truth means 1 and a
// missing confidence means 1.
type FactSpec struct {
	Fact       string   `yaml:"fact"`
	Truth      *float64 `yaml:"truth"`
	Confidence *float64 `yaml:"confidence"`
}

// Compile parses the spec into a [Rule].
func (s RuleSpec) Compile() (Rule, error) {
	rule := Rule{
		Name:        s.Name,
		Confidence:  s.Confidence,
		Priority:    s.Priority,
		Category:    s.Category,
		Description: s.Description,
	}
	if rule.Confidence == 0 {
		rule.Confidence = 1
	}
	for _, p := range s.Premises {
		f, err := ParseFormula(p)
		if err != nil {
			return Rule{}, fmt.Errorf("rule %q premise %q: %w", s.Name, p, err)
		}
		rule.Premises = append(rule.Premises, f)
	}
	c, err := ParseFormula(s.Conclusion)
	if err != nil {
		return Rule{}, fmt.Errorf("rule %q conclusion: %w", s.Name, err)
	}
	rule.Conclusion = c
	return rule, rule.Validate()
}

// LoadRules decodes a [RuleFile] from rd and adds its rules and facts to r.
// Invalid entries are logged and skipped; their errors are joined into the
// returned error, which is nil when everything loaded. The number of loaded
// rules and facts is returned either way.
func (r *Reasoner) LoadRules(rd io.Reader) (rules, facts int, err error) {
	var file RuleFile
	dec := yaml.NewDecoder(rd)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return 0, 0, fmt.Errorf("reasoning: decode rules: %w", err)
	}

	var errs []error
	for _, spec := range file.Rules {
		rule, err := spec.Compile()
		if err == nil {
			err = r.AddRule(rule)
		}
		if err != nil {
			slog.Warn("reasoning: skipping rule", "rule", spec.Name, "err", err)
			errs = append(errs, err)
			continue
		}
		rules++
	}
	for _, spec := range file.Facts {
		pred, args, err := GroundAtom(spec.Fact)
		if err != nil {
			slog.Warn("reasoning: skipping fact", "fact", spec.Fact, "err", err)
			errs = append(errs, err)
			continue
		}
		v := Value(1)
		if spec.Truth != nil {
			v.Truth = *spec.Truth
		}
		if spec.Confidence != nil {
			v.Confidence = *spec.Confidence
		}
		r.AddFactValue(pred, args, v)
		facts++
	}
	return rules, facts, errors.Join(errs...)
}

// GroundAtom parses s as a ground atomic formula and returns its predicate
// and arguments.
func GroundAtom(s string) (pred string, args []string, err error) {
	f, err := ParseFormula(s)
	if err != nil {
		return "", nil, err
	}
	if f.Kind != KindAtomic || !f.IsGround() {
		return "", nil, fmt.Errorf("%w: %q is not a ground atom", ErrParse, s)
	}
	args = make([]string, len(f.Args))
	for i, a := range f.Args {
		args[i] = a.Name
	}
	return f.Predicate, args, nil
}
