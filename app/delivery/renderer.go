package delivery

import (
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/feedcourier/feedcourier/app/database"
)

// DefaultTemplate is the message body used when no template setting is stored
const DefaultTemplate = "*{{.Title}}*\n\n{{.Description}}\n\n{{.Link}}"

// templateData exposes the item fields available to message templates
type templateData struct {
	Title       string
	Description string
	Link        string
	Author      string
	ImageURL    string
	PublishedAt string
}

// RenderMessage renders an item through the message template
func RenderMessage(tmpl string, item database.Item) (string, error) {
	if strings.TrimSpace(tmpl) == "" {
		tmpl = DefaultTemplate
	}

	t, err := template.New("message").Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("failed to parse message template: %w", err)
	}

	data := templateData{
		Title:       item.Title,
		Description: item.Description,
		Link:        item.Link,
		Author:      item.Author,
		ImageURL:    item.ImageURL,
	}
	if item.PublishedAt != nil {
		data.PublishedAt = item.PublishedAt.UTC().Format(time.RFC3339)
	}

	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", fmt.Errorf("failed to render message: %w", err)
	}

	return strings.TrimSpace(b.String()), nil
}
