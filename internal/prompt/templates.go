package prompt

import (
	_ "embed"
	"fmt"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var defaultPrompts []byte

// Kind selects the prompt family for a request.
type Kind string

const (
	KindChat           Kind = "chat"
	KindNewbie         Kind = "newbie"
	KindGuide          Kind = "guide"
	KindAssetChat      Kind = "asset_chat"
	KindAssetDetail    Kind = "asset_detail"
	KindRisk           Kind = "risk"
	KindNews           Kind = "news"
	KindRecommendation Kind = "recommendation"
)

// ChatKinds are the general conversation kinds a user can pick.
var ChatKinds = []Kind{KindChat, KindNewbie, KindGuide}

// IsChatKind reports whether s names one of ChatKinds.
func IsChatKind(s string) bool {
	for _, k := range ChatKinds {
		if string(k) == s {
			return true
		}
	}
	return false
}

type section struct {
	System  string    `yaml:"system"`
	User    string    `yaml:"user"`
	Content yaml.Node `yaml:"content"`
}

type compiled struct {
	system *template.Template
	user   *template.Template
}

// Templates holds the parsed prompt templates.
type Templates struct {
	sections  map[Kind]compiled
	guideText string
}

// Default parses the embedded prompts.
func Default() (*Templates, error) {
	return Load(defaultPrompts)
}

// Load parses prompts from YAML. Every kind must define a system template.
func Load(data []byte) (*Templates, error) {
	var raw map[Kind]section
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing prompts: %w", err)
	}

	t := &Templates{sections: make(map[Kind]compiled, len(raw))}
	for _, kind := range []Kind{KindChat, KindNewbie, KindGuide, KindAssetChat, KindAssetDetail, KindRisk, KindNews, KindRecommendation} {
		sec, ok := raw[kind]
		if !ok || strings.TrimSpace(sec.System) == "" {
			return nil, fmt.Errorf("prompts: %s: missing system template", kind)
		}
		var c compiled
		var err error
		if c.system, err = template.New(string(kind) + ".system").Option("missingkey=error").Parse(sec.System); err != nil {
			return nil, fmt.Errorf("prompts: %s system: %w", kind, err)
		}
		if sec.User != "" {
			if c.user, err = template.New(string(kind) + ".user").Option("missingkey=error").Parse(sec.User); err != nil {
				return nil, fmt.Errorf("prompts: %s user: %w", kind, err)
			}
		}
		t.sections[kind] = c
	}

	if guide := raw[KindGuide]; guide.Content.Kind != 0 {
		out, err := yaml.Marshal(&guide.Content)
		if err != nil {
			return nil, fmt.Errorf("prompts: rendering guide content: %w", err)
		}
		t.guideText = strings.TrimSpace(string(out))
	}
	return t, nil
}

func (t *Templates) render(kind Kind, user bool, data any) (string, error) {
	sec, ok := t.sections[kind]
	if !ok {
		return "", fmt.Errorf("unknown prompt kind %q", kind)
	}
	tpl := sec.system
	if user {
		tpl = sec.user
	}
	if tpl == nil {
		return "", fmt.Errorf("prompt kind %q has no user template", kind)
	}
	var sb strings.Builder
	if err := tpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("rendering %s: %w", tpl.Name(), err)
	}
	return strings.TrimSpace(sb.String()), nil
}
