package erc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
)

const pageSize = 50

// pageResult is the outcome of walking a paginated endpoint: the items
// collected so far, whether the walk reached the end, and any errors that
// cut it short. A partial walk is an observation, not a crash.
type pageResult struct {
	Items    []json.RawMessage
	Complete bool
	Errors   []string
}

// paginate walks a list/search endpoint with offset/limit until the server
// reports no further items. Each page fetch retries transient failures;
// a persistent failure ends the walk with what was collected.
func (c *Client) paginate(ctx context.Context, route string, args json.RawMessage, itemsKey string) pageResult {
	result := c.collectPages(ctx, route, args, itemsKey)
	if !result.Complete {
		log.Warn().Str("route", route).Int("items", len(result.Items)).Strs("errors", result.Errors).Msg("pagination walk incomplete")
	}
	return result
}

func (c *Client) collectPages(ctx context.Context, route string, args json.RawMessage, itemsKey string) pageResult {
	var result pageResult
	offset := 0
	for {
		pageArgs, err := withPaging(args, offset, pageSize)
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
			return result
		}
		payload, err := c.DispatchWithRetry(ctx, route, pageArgs)
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
			return result
		}

		var page map[string]json.RawMessage
		if err := json.Unmarshal(payload, &page); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("decode %s page: %v", route, err))
			return result
		}
		var items []json.RawMessage
		if raw, ok := page[itemsKey]; ok {
			if err := json.Unmarshal(raw, &items); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("decode %s items: %v", route, err))
				return result
			}
		}
		result.Items = append(result.Items, items...)

		total := -1
		if raw, ok := page["total"]; ok {
			_ = json.Unmarshal(raw, &total)
		}
		offset += len(items)
		if len(items) < pageSize || (total >= 0 && offset >= total) {
			result.Complete = true
			return result
		}
	}
}

// withPaging overlays offset/limit onto the planner's arguments, dropping
// the tool route field which is not part of the wire body.
func withPaging(args json.RawMessage, offset, limit int) (json.RawMessage, error) {
	params := map[string]any{}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &params); err != nil {
			return nil, fmt.Errorf("decode call args: %w", err)
		}
	}
	delete(params, "tool")
	params["offset"] = offset
	params["limit"] = limit
	out, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode page args: %w", err)
	}
	return out, nil
}
