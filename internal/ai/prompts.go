package ai

import (
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
)

//go:embed prompts/*.tmpl
var promptFS embed.FS

var prompts = template.Must(template.New("prompts").Funcs(template.FuncMap{
	"toJSON": toJSON,
}).ParseFS(promptFS, "prompts/*.tmpl"))

// Template names.
const (
	tmplSegmentSystem     = "segment_system.tmpl"
	tmplSegmentUser       = "segment_user.tmpl"
	tmplFlowContentSystem = "flow_content_system.tmpl"
	tmplFlowContentUser   = "flow_content_user.tmpl"
	tmplFlowSystem        = "flow_system.tmpl"
	tmplFlowUser          = "flow_user.tmpl"
	tmplCampaignSystem    = "campaign_system.tmpl"
	tmplCampaignUser      = "campaign_user.tmpl"
	tmplChatSystem        = "chat_system.tmpl"
	tmplChatUser          = "chat_user.tmpl"
)

func render(name string, data any) (string, error) {
	var b strings.Builder
	if err := prompts.ExecuteTemplate(&b, name, data); err != nil {
		return "", fmt.Errorf("render prompt %s: %w", name, err)
	}
	return strings.TrimSpace(b.String()), nil
}

func toJSON(v any) string {
	if raw, ok := v.(json.RawMessage); ok {
		if len(raw) == 0 {
			return "{}"
		}
		v = raw
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
