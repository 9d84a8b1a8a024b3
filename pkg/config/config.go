package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Config is a parsed printer.cfg with section access tracking, so unused
// sections and options can be reported after all modules have loaded.
type Config struct {
	mu       sync.RWMutex
	sections map[string]*Section
	order    []string
	accessed map[string]struct{}
}

// New creates an empty Config.
func New() *Config {
	return &Config{
		sections: make(map[string]*Section),
		accessed: make(map[string]struct{}),
	}
}

// Load reads a configuration file. [include path] directives are resolved
// relative to the including file and may contain glob patterns.
func Load(path string) (*Config, error) {
	c := New()
	if err := c.parseFile(path, make(map[string]bool)); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadString parses configuration text. Include directives are rejected
// since there is no directory to resolve them against.
func LoadString(data string) (*Config, error) {
	return LoadReader(strings.NewReader(data), "<string>")
}

// LoadReader parses configuration text from r. name is used in errors.
func LoadReader(r io.Reader, name string) (*Config, error) {
	c := New()
	p := &parser{cfg: c, name: name}
	if err := p.parse(r); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) parseFile(path string, visited map[string]bool) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("config: invalid path %s: %w", path, err)
	}
	if visited[abs] {
		return fmt.Errorf("config: recursive include: %s", path)
	}
	visited[abs] = true
	defer func() { visited[abs] = false }()

	f, err := os.Open(abs)
	if err != nil {
		return fmt.Errorf("config: unable to open %s: %w", path, err)
	}
	defer f.Close()

	p := &parser{
		cfg:  c,
		name: path,
		include: func(spec string) error {
			pattern := filepath.Join(filepath.Dir(abs), spec)
			matches, err := filepath.Glob(pattern)
			if err != nil {
				return fmt.Errorf("config: invalid include pattern %q: %w", spec, err)
			}
			if len(matches) == 0 && !strings.ContainsAny(pattern, "*?[") {
				return fmt.Errorf("config: include file does not exist: %s", pattern)
			}
			sort.Strings(matches)
			for _, m := range matches {
				if err := c.parseFile(m, visited); err != nil {
					return err
				}
			}
			return nil
		},
	}
	return p.parse(f)
}

// parser handles one file's worth of lines.
type parser struct {
	cfg     *Config
	name    string
	include func(spec string) error

	section string
	options map[string]string
}

func (p *parser) flush() {
	if p.section != "" {
		p.cfg.addSection(p.section, p.options)
	}
	p.section = ""
	p.options = nil
}

func (p *parser) parse(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := stripComment(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			p.flush()
			header := strings.TrimSpace(line[1 : len(line)-1])
			if header == "" {
				return fmt.Errorf("config: empty section header at line %d in %s", lineNum, p.name)
			}
			if spec, ok := strings.CutPrefix(header, "include "); ok {
				spec = strings.TrimSpace(spec)
				if spec == "" {
					return fmt.Errorf("config: empty include at line %d in %s", lineNum, p.name)
				}
				if p.include == nil {
					return fmt.Errorf("config: include not supported in %s", p.name)
				}
				if err := p.include(spec); err != nil {
					return err
				}
				continue
			}
			p.section = header
			p.options = make(map[string]string)
			continue
		}

		// options before the first section are ignored
		if p.section == "" {
			continue
		}
		key, value, ok := splitOption(line)
		if !ok {
			continue
		}
		p.options[key] = value
	}
	p.flush()

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("config: error reading %s: %w", p.name, err)
	}
	return nil
}

// stripComment trims a line and removes comments. Lines in the SAVE_CONFIG
// block ("#*# ...") are treated as regular config.
func stripComment(raw string) string {
	line := strings.TrimSpace(raw)
	if rest, ok := strings.CutPrefix(line, "#*#"); ok {
		return strings.TrimSpace(rest)
	}
	if idx := strings.IndexAny(line, "#;"); idx >= 0 {
		line = strings.TrimSpace(line[:idx])
	}
	return line
}

func splitOption(line string) (key, value string, ok bool) {
	idx := strings.IndexAny(line, ":=")
	if idx <= 0 {
		return "", "", false
	}
	key = strings.TrimSpace(line[:idx])
	value = strings.TrimSpace(line[idx+1:])
	return key, value, key != ""
}

// addSection adds a section, merging options into an existing one of the
// same name.
func (c *Config) addSection(name string, options map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.sections[name]; ok {
		for k, v := range options {
			existing.options[strings.ToLower(k)] = v
		}
		return
	}
	c.sections[name] = newSection(name, options)
	c.order = append(c.order, name)
}

// GetSection returns a section by name, or an error if not found.
func (c *Config) GetSection(name string) (*Section, error) {
	if sec := c.GetSectionOptional(name); sec != nil {
		return sec, nil
	}
	return nil, ErrMissingSection(name)
}

// GetSectionOptional returns a section if it exists, or nil.
func (c *Config) GetSectionOptional(name string) *Section {
	c.mu.Lock()
	defer c.mu.Unlock()

	sec, ok := c.sections[name]
	if ok {
		c.accessed[name] = struct{}{}
	}
	return sec
}

// HasSection checks if a section exists without marking it accessed.
func (c *Config) HasSection(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.sections[name]
	return ok
}

// GetSections returns all sections in file order.
func (c *Config) GetSections() []*Section {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]*Section, 0, len(c.order))
	for _, name := range c.order {
		result = append(result, c.sections[name])
	}
	return result
}

// GetSectionNames returns all section names in file order.
func (c *Config) GetSectionNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.order...)
}

// GetUnusedSections returns the sorted names of sections never accessed.
func (c *Config) GetUnusedSections() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var result []string
	for name := range c.sections {
		if _, ok := c.accessed[name]; !ok {
			result = append(result, name)
		}
	}
	sort.Strings(result)
	return result
}

// CheckUnusedOptions returns an error naming every option that was never
// read in an accessed section.
func (c *Config) CheckUnusedOptions() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var problems []string
	for name, sec := range c.sections {
		if _, ok := c.accessed[name]; !ok {
			continue
		}
		if unused := sec.GetUnusedOptions(); len(unused) > 0 {
			problems = append(problems, fmt.Sprintf("[%s]: unused options %v", name, unused))
		}
	}
	if len(problems) > 0 {
		sort.Strings(problems)
		return NewConfigError("", "", strings.Join(problems, "; "))
	}
	return nil
}
