package export

import (
	"bytes"
	"embed"
	"html/template"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var documentTemplate = template.Must(template.New("document.html").Funcs(template.FuncMap{
	"formatDate": func(t time.Time) string { return t.Format("Jan 2, 2006 15:04 MST") },
}).ParseFS(templateFS, "templates/document.html"))

type TemplateData struct {
	Title       string
	ContentHTML template.HTML
	Owner       string
	Revision    int64
	UpdatedAt   time.Time
	Comments    []TemplateComment
}

// TemplateComment is one appendix entry. Quote is empty when Unlocatable.
type TemplateComment struct {
	Number      int
	Author      string
	Body        string
	Quote       string
	Unlocatable bool
	CreatedAt   time.Time
	Replies     []TemplateReply
}

type TemplateReply struct {
	Author    string
	Body      string
	CreatedAt time.Time
}

func RenderDocumentHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := documentTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
