package tui

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gkirna/scribeflow/internal/config"
	"github.com/gkirna/scribeflow/internal/language"
	"github.com/gkirna/scribeflow/internal/provider"
)

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func maskAPIKey(key string) string {
	if len(key) <= 8 {
		return "***"
	}
	return key[:7] + "..." + key[len(key)-4:]
}

// redactURI hides the password of a connection string.
func redactURI(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}

func configuredProviders(cfg *config.Config) []string {
	providers := make([]string, 0, len(cfg.Providers))
	for name, pc := range cfg.Providers {
		if pc.APIKey != "" {
			providers = append(providers, name)
		}
	}
	sort.Strings(providers)
	return providers
}

// setAPIKey stores key under [providers.<name>]. An empty key leaves the
// existing one alone.
func setAPIKey(cfg *config.Config, name, key string) {
	key = strings.TrimSpace(key)
	if key == "" {
		return
	}
	if cfg.Providers == nil {
		cfg.Providers = make(map[string]config.ProviderConfig)
	}
	cfg.Providers[name] = config.ProviderConfig{APIKey: key}
}

// parseKeywords splits comma or newline separated input, dropping blanks
// and duplicates.
func parseKeywords(input string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, f := range strings.FieldsFunc(input, func(r rune) bool { return r == ',' || r == '\n' }) {
		f = strings.TrimSpace(f)
		if f == "" || seen[strings.ToLower(f)] {
			continue
		}
		seen[strings.ToLower(f)] = true
		out = append(out, f)
	}
	return out
}

func validatePositiveInt(s string) error {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("must be a number")
	}
	if n <= 0 {
		return fmt.Errorf("must be positive")
	}
	return nil
}

func validateDuration(s string) error {
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("must be a duration like 250ms or 5s")
	}
	if d <= 0 {
		return fmt.Errorf("must be positive")
	}
	return nil
}

func validateLanguage(s string) error {
	if !language.Valid(s) {
		return fmt.Errorf("not a BCP 47 language tag")
	}
	return nil
}

func validateMongoURI(s string) error {
	if !strings.HasPrefix(s, "mongodb://") && !strings.HasPrefix(s, "mongodb+srv://") {
		return fmt.Errorf("must start with mongodb:// or mongodb+srv://")
	}
	return nil
}

// Parsers for values already checked by the validators above.
func atoi(s string) int {
	n, _ := strconv.Atoi(strings.TrimSpace(s))
	return n
}

func duration(s string) time.Duration {
	d, _ := time.ParseDuration(strings.TrimSpace(s))
	return d
}

// apiKeyHint lists where keys for providers of type t come from.
func apiKeyHint(t provider.ModelType) string {
	var sources []string
	for _, name := range provider.List(t) {
		p := provider.Get(name)
		if !p.RequiresAPIKey() {
			continue
		}
		src := fmt.Sprintf("%s: $%s", name, p.EnvKey)
		if p.KeyURL != "" {
			src += " (" + p.KeyURL + ")"
		}
		sources = append(sources, src)
	}
	return "Leave empty to keep the current key or use the environment. " + strings.Join(sources, "; ")
}

// modelHint lists the known models of type t per provider.
func modelHint(t provider.ModelType) string {
	var parts []string
	for _, name := range provider.List(t) {
		models := provider.Get(name).ModelsOfType(t)
		if len(models) == 0 {
			continue
		}
		ids := make([]string, len(models))
		for i, m := range models {
			ids[i] = m.ID
		}
		parts = append(parts, name+": "+strings.Join(ids, ", "))
	}
	return "Empty uses the provider default. " + strings.Join(parts, "; ")
}
