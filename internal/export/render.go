package export

import (
	"fmt"
	"html"
	"strings"

	"counsel/api/internal/richtext"
)

// RenderHTML converts a document tree to an HTML fragment.
func RenderHTML(doc *richtext.Node) string {
	if doc == nil {
		return ""
	}
	var b strings.Builder
	renderNode(&b, doc)
	return b.String()
}

func renderNode(b *strings.Builder, n *richtext.Node) {
	switch n.Type {
	case richtext.TypeDoc:
		renderChildren(b, n)
	case richtext.TypeParagraph:
		wrap(b, n, "<p>", "</p>\n")
	case "heading":
		level := headingLevel(n)
		wrap(b, n, fmt.Sprintf("<h%d>", level), fmt.Sprintf("</h%d>\n", level))
	case "bulletList":
		wrap(b, n, "<ul>\n", "</ul>\n")
	case "orderedList":
		wrap(b, n, "<ol>\n", "</ol>\n")
	case "listItem", "taskItem":
		wrap(b, n, "<li>", "</li>\n")
	case "taskList":
		wrap(b, n, "<ul class=\"tasks\">\n", "</ul>\n")
	case "blockquote":
		wrap(b, n, "<blockquote>\n", "</blockquote>\n")
	case "codeBlock":
		wrap(b, n, "<pre><code>", "</code></pre>\n")
	case "table":
		wrap(b, n, "<table>\n", "</table>\n")
	case "tableRow":
		wrap(b, n, "<tr>\n", "</tr>\n")
	case "tableCell":
		wrap(b, n, "<td>", "</td>\n")
	case "tableHeader":
		wrap(b, n, "<th>", "</th>\n")
	case "horizontalRule":
		b.WriteString("<hr>\n")
	case richtext.TypeHardBreak:
		b.WriteString("<br>")
	case richtext.TypeText:
		b.WriteString(renderText(n))
	default:
		renderChildren(b, n)
	}
}

func wrap(b *strings.Builder, n *richtext.Node, open, close string) {
	b.WriteString(open)
	renderChildren(b, n)
	b.WriteString(close)
}

func renderChildren(b *strings.Builder, n *richtext.Node) {
	for _, child := range n.Content {
		renderNode(b, child)
	}
}

func headingLevel(n *richtext.Node) int {
	switch lvl := n.Attrs["level"].(type) {
	case float64:
		if lvl >= 1 && lvl <= 6 {
			return int(lvl)
		}
	case int:
		if lvl >= 1 && lvl <= 6 {
			return lvl
		}
	}
	return 1
}

// renderText applies marks inside out so the first mark is the outermost tag.
func renderText(n *richtext.Node) string {
	out := html.EscapeString(n.Text)
	for i := len(n.Marks) - 1; i >= 0; i-- {
		mark := n.Marks[i]
		switch mark.Type {
		case "bold":
			out = "<strong>" + out + "</strong>"
		case "italic":
			out = "<em>" + out + "</em>"
		case "code":
			out = "<code>" + out + "</code>"
		case "strike":
			out = "<s>" + out + "</s>"
		case "underline":
			out = "<u>" + out + "</u>"
		case "subscript":
			out = "<sub>" + out + "</sub>"
		case "superscript":
			out = "<sup>" + out + "</sup>"
		case "highlight":
			out = "<mark>" + out + "</mark>"
		case "link":
			href, _ := mark.Attrs["href"].(string)
			out = fmt.Sprintf(`<a href="%s">%s</a>`, html.EscapeString(href), out)
		}
	}
	return out
}
