package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/slack-go/slack"
)

const (
	historyPoliteDelay       = 1 * time.Second
	historyDefaultRetryAfter = 60 * time.Second
	conversationsListLimit   = 200
)

// pageResponse covers both paginated endpoints the pager reads. Items are
// kept as raw JSON so they can be persisted exactly as received.
type pageResponse struct {
	Ok               bool              `json:"ok"`
	Error            string            `json:"error,omitempty"`
	Messages         []json.RawMessage `json:"messages"`
	Channels         []json.RawMessage `json:"channels"`
	HasMore          bool              `json:"has_more"`
	ResponseMetadata struct {
		NextCursor string `json:"next_cursor"`
	} `json:"response_metadata"`
}

// HistoryPager drains conversations.history for one channel at a time, and
// users.conversations for the channel manifest. The endpoints are called
// directly rather than through slack-go so that messages and channels are
// kept as raw JSON and the Retry-After fallback can be applied.
type HistoryPager struct {
	httpClient *http.Client
	apiURL     string
	token      string
	pageSize   int

	politeDelay       time.Duration
	defaultRetryAfter time.Duration
	sleep             func(context.Context, time.Duration) error

	logger *slog.Logger
}

func NewHistoryPager(conf *Config) *HistoryPager {
	apiURL := firstString([]string{conf.SlackAPIURL, slack.APIURL})
	pageSize := conf.HistoryPageSize
	if pageSize <= 0 {
		pageSize = defaultHistoryPageSize
	}
	return &HistoryPager{
		httpClient:        &http.Client{},
		apiURL:            apiURL,
		token:             conf.SlackToken,
		pageSize:          pageSize,
		politeDelay:       historyPoliteDelay,
		defaultRetryAfter: historyDefaultRetryAfter,
		sleep:             sleepContext,
		logger:            conf.getLogger(),
	}
}

// FetchAll returns every message of channelID newer than oldest, in the order
// the pages were received. A response with ok=false ends pagination and the
// messages gathered so far are returned without error. Transport failures
// return the partial result together with the error.
func (p *HistoryPager) FetchAll(ctx context.Context, channelID string, oldest time.Time) ([]json.RawMessage, error) {
	messages := []json.RawMessage{}
	cursor := ""
	pages := 0

	for {
		params := url.Values{}
		params.Set("channel", channelID)
		params.Set("limit", strconv.Itoa(p.pageSize))
		if !oldest.IsZero() {
			params.Set("oldest", strconv.FormatInt(oldest.Unix(), 10))
		}
		if cursor != "" {
			params.Set("cursor", cursor)
		}
		res, limited, retryAfter, err := p.fetchPage(ctx, "conversations.history", params)
		if err != nil {
			return messages, err
		}
		if limited {
			p.logger.Warn("rate limited", "channel", channelID, "retry_after", retryAfter.String())
			if err := p.sleep(ctx, retryAfter); err != nil {
				return messages, err
			}
			continue
		}
		pages++

		if !res.Ok {
			p.logger.Error("slack api error", "channel", channelID, "error", res.Error)
			break
		}
		messages = append(messages, res.Messages...)

		if !res.HasMore {
			break
		}
		cursor = res.ResponseMetadata.NextCursor
		if cursor == "" {
			p.logger.Warn("has_more is true but no next_cursor found, stopping pagination", "channel", channelID)
			break
		}

		p.logger.Debug("next page", "channel", channelID, "page", pages)
		if err := p.sleep(ctx, p.politeDelay); err != nil {
			return messages, err
		}
	}

	p.logger.Info(fmt.Sprintf("HistoryPager: %d messages retrieved", len(messages)), "channel", channelID, "pages", pages)
	return messages, nil
}

// ListChannels returns every conversation of the given types the token is a
// member of, following next_cursor until it is empty. Unlike history, an
// ok=false response is an error because there is nothing to fall back to.
func (p *HistoryPager) ListChannels(ctx context.Context, types []string) ([]json.RawMessage, error) {
	channels := []json.RawMessage{}
	cursor := ""
	for {
		params := url.Values{}
		params.Set("types", strings.Join(types, ","))
		params.Set("limit", strconv.Itoa(conversationsListLimit))
		if cursor != "" {
			params.Set("cursor", cursor)
		}
		res, limited, retryAfter, err := p.fetchPage(ctx, "users.conversations", params)
		if err != nil {
			return nil, err
		}
		if limited {
			p.logger.Warn("rate limited while listing channels", "retry_after", retryAfter.String())
			if err := p.sleep(ctx, retryAfter); err != nil {
				return nil, err
			}
			continue
		}
		if !res.Ok {
			return nil, fmt.Errorf("users.conversations: %s", res.Error)
		}
		channels = append(channels, res.Channels...)

		cursor = res.ResponseMetadata.NextCursor
		if cursor == "" {
			return channels, nil
		}
	}
}

// fetchPage issues one GET against method. When limited is true the request
// must be repeated unchanged after retryAfter.
func (p *HistoryPager) fetchPage(ctx context.Context, method string, params url.Values) (res *pageResponse, limited bool, retryAfter time.Duration, err error) {
	endpoint := strings.TrimSuffix(p.apiURL, "/") + "/" + method + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, false, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+p.token)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, false, 0, fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, true, p.retryAfter(resp.Header.Get("Retry-After")), nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, false, 0, fmt.Errorf("%s: unexpected status %s", method, resp.Status)
	}

	res = &pageResponse{}
	if err := json.NewDecoder(resp.Body).Decode(res); err != nil {
		return nil, false, 0, fmt.Errorf("%s: decode response: %w", method, err)
	}
	return res, false, 0, nil
}

func (p *HistoryPager) retryAfter(header string) time.Duration {
	sec, err := strconv.Atoi(strings.TrimSpace(header))
	if err != nil || sec < 0 {
		return p.defaultRetryAfter
	}
	return time.Duration(sec) * time.Second
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
