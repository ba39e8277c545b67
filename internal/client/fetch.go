package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/codewiresh/dcon/internal/decoder"
	"github.com/codewiresh/dcon/internal/session"
)

// DefaultPageSize is the page size used once a listing turns out to be too
// large to fetch in one go.
const DefaultPageSize = 1000

var ErrNotJSON = errors.New("paginated fetch needs a JSON api level")

// FetchAll runs a list command and returns every item under result.<key>.
// The command is first sent as is. When the director cannot render the
// whole result it is repeated with limit and offset until an empty page
// comes back with nothing filtered out. A page that is itself too large is
// retried at half the size.
func FetchAll(ctx context.Context, s *session.Session, command, key string, pageSize int) ([]any, error) {
	if !s.APILevel().IsJSON() {
		return nil, fmt.Errorf("%w: session is at api %d", ErrNotJSON, s.APILevel())
	}

	res, err := s.SendCommand(ctx, command)
	if err != nil {
		return nil, err
	}
	items, err := pageItems(res, key)
	if !errors.Is(err, session.ErrResponseTooLarge) {
		return items, err
	}

	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	all := make([]any, 0, pageSize)
	for offset := 0; ; {
		res, err := s.SendCommand(ctx, fmt.Sprintf("%s limit=%d offset=%d", command, pageSize, offset))
		if err != nil {
			return nil, err
		}
		page, err := pageItems(res, key)
		if errors.Is(err, session.ErrResponseTooLarge) && pageSize > 1 {
			pageSize /= 2
			continue
		}
		if err != nil {
			return nil, err
		}

		if len(page) == 0 {
			// Rows hidden by the console's ACL still count against the
			// window, so an empty page is only the end when nothing was
			// filtered.
			if r, ok := decoder.Meta(res.RawText); !ok || r.Filtered == 0 {
				return all, nil
			}
		}
		all = append(all, page...)
		offset += pageSize
	}
}

func pageItems(res *session.CommandResult, key string) ([]any, error) {
	if res.IsError && !res.TooLarge() {
		return nil, CommandError(res)
	}
	v, err := res.Decode(key)
	if err != nil {
		return nil, err
	}
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: result.%s is not a list", session.ErrJSONDecode, key)
	}
	return items, nil
}
