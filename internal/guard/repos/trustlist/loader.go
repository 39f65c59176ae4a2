package trustlist

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"

	logpkg "github.com/haukened/egress-guard/internal/guard/common/log"
	"github.com/haukened/egress-guard/internal/guard/common/utils"
	"github.com/haukened/egress-guard/internal/guard/domain"
	"github.com/haukened/egress-guard/internal/guard/repos/trustlist/parsers"
)

// ConfigSource attributes rules that came from the trusted_domains setting.
const ConfigSource = "config:trusted_domains"

// Sources names where allow-list rules come from.
type Sources struct {
	// Names are suffix rules, typically from configuration.
	Names []string
	// Directory holds list files. Plain files (.txt, .list, or no extension)
	// default to suffix rules; .yaml, .json and .toml files carry explicit
	// "suffix" and "exact" arrays.
	Directory string
	// HostsFile is trusted exactly by hostname. A missing file is skipped.
	HostsFile string
}

// LoadRules gathers rules from every configured source.
// Any unreadable or malformed file fails the whole load.
func LoadRules(src Sources, logger logpkg.Logger, now time.Time) ([]domain.TrustRule, error) {
	var rules []domain.TrustRule

	for _, n := range src.Names {
		rule, err := domain.NewSuffixTrustRule(normalizeEntry(n), ConfigSource, now)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted domain %q: %w", n, err)
		}
		rules = append(rules, rule)
	}

	if src.Directory != "" {
		dirRules, err := LoadDirectory(src.Directory, logger, now)
		if err != nil {
			return nil, err
		}
		rules = append(rules, dirRules...)
	}

	if src.HostsFile != "" {
		hostRules, err := loadHostsFile(src.HostsFile, logger, now)
		if err != nil {
			return nil, err
		}
		rules = append(rules, hostRules...)
	}

	logger.Info(map[string]any{"rules": len(rules)}, "trust list loaded")
	return rules, nil
}

// LoadDirectory walks dir and parses every supported file, in lexical order.
func LoadDirectory(dir string, logger logpkg.Logger, now time.Time) ([]domain.TrustRule, error) {
	var rules []domain.TrustRule

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		fileRules, err := loadFile(path, logger, now)
		if err != nil {
			return fmt.Errorf("error parsing trust file %s: %w", path, err)
		}
		rules = append(rules, fileRules...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rules, nil
}

func loadFile(path string, logger logpkg.Logger, now time.Time) ([]domain.TrustRule, error) {
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	case ".toml":
		parser = toml.Parser()
	case "", ".txt", ".list":
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return parsers.ParsePlainList(f, path, domain.TrustRuleSuffix, logger, now)
	default:
		logger.Debug(map[string]any{"path": path}, "skip_unsupported_trust_file")
		return nil, nil
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, fmt.Errorf("failed to load trust file %s: %w", path, err)
	}

	var rules []domain.TrustRule
	for _, entry := range []struct {
		key  string
		kind domain.TrustRuleKind
	}{
		{"suffix", domain.TrustRuleSuffix},
		{"exact", domain.TrustRuleExact},
	} {
		for _, name := range toStringValues(k.Get(entry.key)) {
			rule, err := domain.NewTrustRule(normalizeEntry(name), entry.kind, path, now)
			if err != nil {
				return nil, fmt.Errorf("invalid %s entry %q: %w", entry.key, name, err)
			}
			rules = append(rules, rule)
		}
	}
	return rules, nil
}

func loadHostsFile(path string, logger logpkg.Logger, now time.Time) ([]domain.TrustRule, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Warn(map[string]any{"path": path}, "hosts file not found, skipping")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error opening hosts file %s: %w", path, err)
	}
	defer f.Close()
	return parsers.ParseHostsFile(f, path, logger, now)
}

// normalizeEntry drops a leading wildcard marker; the rule kind decides matching.
func normalizeEntry(name string) string {
	name = strings.TrimSpace(name)
	name = strings.TrimPrefix(name, "*.")
	return utils.CanonicalDNSName(strings.TrimPrefix(name, "."))
}

// toStringValues converts a koanf value (string or []any of strings) into
// non-empty strings, skipping anything else.
func toStringValues(val any) []string {
	switch v := val.(type) {
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return nil
		}
		return []string{s}
	case []any:
		out := make([]string, 0, len(v))
		for _, elem := range v {
			s, ok := elem.(string)
			if !ok {
				continue
			}
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
