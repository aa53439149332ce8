package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/slack-go/slack"
)

// SlackExporter writes one JSON document per channel plus channels.json into
// an export directory, then downloads the attachments those documents refer to.
type SlackExporter struct {
	config      *Config
	slackClient *slack.Client
	pager       *HistoryPager
	attachments *AttachmentResolver

	logger *slog.Logger
}

// Interface implementation check
var _ ExtractorInterface = (*SlackExporter)(nil)

// NewSlackExporter authenticates against auth.test before returning, so a bad
// token stops the run before anything touches the export directory.
func NewSlackExporter(ctx context.Context, conf *Config) (*SlackExporter, error) {
	if conf.SlackToken == "" {
		return nil, ErrMissingToken
	}

	opts := []slack.Option{}
	if conf.SlackAPIURL != "" {
		opts = append(opts, slack.OptionAPIURL(conf.SlackAPIURL))
	}
	client := slack.New(conf.SlackToken, opts...)

	e := &SlackExporter{
		config:      conf,
		slackClient: client,
		pager:       NewHistoryPager(conf),
		attachments: NewAttachmentResolver(conf, client),
		logger:      conf.getLogger(),
	}
	if err := e.authenticate(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *SlackExporter) authenticate(ctx context.Context) error {
	res, err := e.slackClient.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSlackAuth, err)
	}
	e.logger.Info("Slack authentication successful", "team", res.Team, "user", res.User)
	return nil
}

// Export extracts every channel visible to the token into exportPath.
// A channel whose history cannot be fetched is logged and skipped.
func (e *SlackExporter) Export(ctx context.Context, exportPath string, oldest time.Time, fileSuffix string) (string, error) {
	e.logger.Info("Creating export", "path", exportPath)
	if err := os.MkdirAll(exportPath, 0755); err != nil {
		return "", err
	}

	rawChannels, channels, err := e.listChannels(ctx)
	if err != nil {
		return "", err
	}
	if len(channels) == 0 {
		if e.config.RequireChannels {
			return "", ErrNoChannels
		}
		e.logger.Warn("no channels found in the workspace, check the token scopes")
	}

	if err := writeJSON(filepath.Join(exportPath, channelsFileName), rawChannels); err != nil {
		return "", err
	}

	exported := 0
	for _, ch := range channels {
		name := channelFileStem(ch)
		e.logger.Info("Exporting channel", "channel", name, "id", ch.ID)

		messages, err := e.pager.FetchAll(ctx, ch.ID, oldest)
		if err != nil {
			e.logger.Error("failed to retrieve history", "channel", name, "error", err.Error())
			continue
		}

		doc := &ChannelHistory{Ok: true, Messages: messages, HasMore: false}
		dst := filepath.Join(exportPath, name+".json")
		if err := writeJSON(dst, doc); err != nil {
			e.logger.Error("failed to write channel history", "channel", name, "error", err.Error())
			continue
		}
		exported++
	}
	e.logger.Info(fmt.Sprintf("SlackExporter: %d/%d channels exported", exported, len(channels)))

	if err := e.attachments.Download(ctx, exportPath, fileSuffix); err != nil {
		return "", err
	}

	e.logger.Info("Export completed", "path", exportPath)
	return exportPath, nil
}

// channelRef is the part of a channel object the export loop needs. The
// object itself is persisted untouched.
type channelRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (e *SlackExporter) listChannels(ctx context.Context) ([]json.RawMessage, []channelRef, error) {
	types := e.config.ChannelTypes
	if len(types) == 0 {
		types = []string{"public_channel"}
	}
	raw, err := e.pager.ListChannels(ctx, types)
	if err != nil {
		return nil, nil, err
	}

	refs := make([]channelRef, 0, len(raw))
	for _, r := range raw {
		ref := channelRef{}
		if err := json.Unmarshal(r, &ref); err != nil {
			return nil, nil, fmt.Errorf("users.conversations: decode channel: %w", err)
		}
		refs = append(refs, ref)
	}
	return raw, refs, nil
}

// channelFileStem names the history file of ch. The manifest name is
// reserved, so a channel called "channels" gets its id appended.
func channelFileStem(ch channelRef) string {
	stem := ch.Name
	if stem == "" {
		return ch.ID
	}
	if stem+".json" == channelsFileName {
		return stem + "_" + ch.ID
	}
	return stem
}

func writeJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	return os.WriteFile(path, b, 0644)
}
