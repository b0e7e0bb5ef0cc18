package pagination

import (
	"encoding/base64"
	"encoding/json"
	"errors"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 250
)

var ErrInvalidPageToken = errors.New("invalid_page_token")

type Pagination struct {
	PageToken string `form:"page_token"`
	PageSize  int    `form:"page_size"`
}

// Cursor marks the last row of a page ordered by (SortKey desc, ID desc).
type Cursor struct {
	ID      int64 `json:"id"`
	SortKey int64 `json:"k"`
}

type PageInfo struct {
	NextPageToken string `json:"next_page_token,omitempty"`
	HasMore       bool   `json:"has_more"`
}

func (p Pagination) Size() int {
	switch {
	case p.PageSize <= 0:
		return DefaultPageSize
	case p.PageSize > MaxPageSize:
		return MaxPageSize
	default:
		return p.PageSize
	}
}

func EncodeCursor(data Cursor) (string, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func DecodeCursor(data string) (*Cursor, error) {
	if data == "" {
		return nil, nil
	}
	b, err := base64.RawURLEncoding.DecodeString(data)
	if err != nil {
		return nil, ErrInvalidPageToken
	}
	var cursor Cursor
	if err := json.Unmarshal(b, &cursor); err != nil {
		return nil, ErrInvalidPageToken
	}
	return &cursor, nil
}

// BuildCursorPageInfo expects data fetched with limit+1 rows and trims it to limit.
func BuildCursorPageInfo[T any](data []*T, limit int, extractCursor func(*T) Cursor) ([]*T, PageInfo) {
	if len(data) <= limit {
		return data, PageInfo{}
	}
	data = data[:limit]
	token, err := EncodeCursor(extractCursor(data[len(data)-1]))
	if err != nil {
		return data, PageInfo{}
	}
	return data, PageInfo{NextPageToken: token, HasMore: true}
}
