package comments

import (
	"encoding/base64"
	"strconv"
	"strings"
	"time"

	"counsel/api/internal/domain"
	"counsel/api/internal/store"
)

// EncodeCursor renders a page position as an opaque token.
func EncodeCursor(c store.CommentCursor) string {
	raw := strconv.FormatInt(c.CreatedAt.UnixNano(), 10) + ":" + c.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func DecodeCursor(token string) (store.CommentCursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return store.CommentCursor{}, domain.Invalid("cursor", "malformed cursor")
	}
	nanos, id, ok := strings.Cut(string(raw), ":")
	if !ok || id == "" {
		return store.CommentCursor{}, domain.Invalid("cursor", "malformed cursor")
	}
	n, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil {
		return store.CommentCursor{}, domain.Invalid("cursor", "malformed cursor")
	}
	return store.CommentCursor{CreatedAt: time.Unix(0, n).UTC(), ID: id}, nil
}
