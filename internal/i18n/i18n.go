// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package i18n renders message keys in the user's language.
package i18n

import (
	"embed"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/autobrr/licman/internal/license"
)

//go:embed messages/*.yaml
var catalogFS embed.FS

// Fallback is the language every key is guaranteed to exist in.
const Fallback = "en"

const pluralSuffix = ".one"

var dateLayouts = map[string]string{
	"en": "02/Jan/06",
	"de": "02.01.06",
	"fr": "02/01/06",
}

// Catalog holds the embedded translations.
type Catalog struct {
	messages map[string]map[string]string // by base language
	tags     []language.Tag
	matcher  language.Matcher

	formatters sync.Map // base language -> *DateFormatter
}

// New loads the embedded catalogs. defaultLocale is what Match falls back to
// when nothing the caller prefers is available; empty means English.
func New(defaultLocale string) (*Catalog, error) {
	entries, err := catalogFS.ReadDir("messages")
	if err != nil {
		return nil, fmt.Errorf("failed to read message catalogs: %w", err)
	}

	c := &Catalog{messages: make(map[string]map[string]string, len(entries))}
	for _, entry := range entries {
		name := entry.Name()
		tag, err := language.Parse(strings.TrimSuffix(name, path.Ext(name)))
		if err != nil {
			return nil, fmt.Errorf("catalog %s has no valid language name: %w", name, err)
		}

		data, err := catalogFS.ReadFile(path.Join("messages", name))
		if err != nil {
			return nil, fmt.Errorf("failed to read catalog %s: %w", name, err)
		}

		messages := map[string]string{}
		if err := yaml.Unmarshal(data, &messages); err != nil {
			return nil, fmt.Errorf("failed to parse catalog %s: %w", name, err)
		}
		c.messages[baseOf(tag)] = messages
	}

	if _, ok := c.messages[Fallback]; !ok {
		return nil, fmt.Errorf("missing %s catalog", Fallback)
	}

	def := Fallback
	if defaultLocale != "" {
		parsed, err := language.Parse(defaultLocale)
		if err != nil {
			return nil, fmt.Errorf("invalid default locale %q: %w", defaultLocale, err)
		}
		def = baseOf(parsed)
		if _, ok := c.messages[def]; !ok {
			return nil, fmt.Errorf("no catalog for default locale %q", defaultLocale)
		}
	}

	// The matcher falls back to its first tag.
	others := make([]string, 0, len(c.messages))
	for lang := range c.messages {
		if lang != def {
			others = append(others, lang)
		}
	}
	sort.Strings(others)
	for _, lang := range append([]string{def}, others...) {
		c.tags = append(c.tags, language.Make(lang))
	}
	c.matcher = language.NewMatcher(c.tags)

	log.Debug().Int("locales", len(c.tags)).Str("default", def).Msg("Loaded message catalogs")
	return c, nil
}

// Supported lists the available locales, default first.
func (c *Catalog) Supported() []language.Tag {
	return append([]language.Tag(nil), c.tags...)
}

// Default is the locale used when nothing better matches.
func (c *Catalog) Default() language.Tag {
	return c.tags[0]
}

// Match picks the best supported locale. Each preference is either a single
// locale ("de-CH") or a full Accept-Language header; earlier preferences win.
func (c *Catalog) Match(preferences ...string) language.Tag {
	var wanted []language.Tag
	for _, pref := range preferences {
		pref = strings.TrimSpace(pref)
		if pref == "" {
			continue
		}
		tags, _, err := language.ParseAcceptLanguage(pref)
		if err != nil {
			log.Trace().Err(err).Str("preference", pref).Msg("Ignoring unparsable locale preference")
			continue
		}
		wanted = append(wanted, tags...)
	}
	if len(wanted) == 0 {
		return c.Default()
	}

	_, index, confidence := c.matcher.Match(wanted...)
	if confidence == language.No {
		return c.Default()
	}
	return c.tags[index]
}

// IsSupported reports whether locale names a language with its own catalog.
func (c *Catalog) IsSupported(locale string) bool {
	tag, err := language.Parse(locale)
	if err != nil {
		return false
	}
	_, ok := c.messages[baseOf(tag)]
	return ok
}

// Translate renders key with {name} placeholders replaced from args.
// Missing keys fall back to English and then to the key itself.
func (c *Catalog) Translate(tag language.Tag, key string, args map[string]any) string {
	text := c.lookup(tag, key, args[license.ArgDays] == 1)
	if len(args) == 0 {
		return text
	}

	formatter := c.DateFormatter(tag)
	pairs := make([]string, 0, len(args)*2)
	for name, value := range args {
		pairs = append(pairs, "{"+name+"}", formatArg(formatter, value))
	}
	return strings.NewReplacer(pairs...).Replace(text)
}

// Render localizes a status message.
func (c *Catalog) Render(tag language.Tag, msg license.Message) string {
	return c.Translate(tag, msg.Key, msg.Args)
}

func (c *Catalog) lookup(tag language.Tag, key string, singular bool) string {
	for _, lang := range []string{baseOf(tag), Fallback} {
		messages, ok := c.messages[lang]
		if !ok {
			continue
		}
		if singular {
			if text, ok := messages[key+pluralSuffix]; ok {
				return text
			}
		}
		if text, ok := messages[key]; ok {
			return text
		}
	}

	log.Warn().Str("key", key).Str("locale", tag.String()).Msg("Missing translation")
	return key
}

// baseOf maps a tag such as "de-CH" or "de-u-rg-chzzzz" to its catalog name.
func baseOf(tag language.Tag) string {
	b, _ := tag.Base()
	return b.String()
}

// DateFormatter returns the shared formatter for tag, creating it on first use.
func (c *Catalog) DateFormatter(tag language.Tag) *DateFormatter {
	lang := baseOf(tag)
	if f, ok := c.formatters.Load(lang); ok {
		return f.(*DateFormatter)
	}
	f, _ := c.formatters.LoadOrStore(lang, newDateFormatter(lang))
	return f.(*DateFormatter)
}

// DateFormatter formats dates the way a locale writes them.
type DateFormatter struct {
	lang   string
	layout string
}

func newDateFormatter(lang string) *DateFormatter {
	layout, ok := dateLayouts[lang]
	if !ok {
		layout = dateLayouts[Fallback]
	}
	return &DateFormatter{lang: lang, layout: layout}
}

func (f *DateFormatter) Layout() string {
	return f.layout
}

// Format renders t as a calendar date in UTC.
func (f *DateFormatter) Format(t time.Time) string {
	return t.UTC().Format(f.layout)
}

func formatArg(f *DateFormatter, value any) string {
	switch v := value.(type) {
	case time.Time:
		return f.Format(v)
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

func (f *DateFormatter) Locale() string {
	return f.lang
}
