package notify

import (
	"context"
	"fmt"
	"log/slog"

	pubnub "github.com/pubnub/go"
)

const ReconciliationChannel = "inventory-reconciliation"

func TicketChannel(ticketID int64) string {
	return fmt.Sprintf("inventory-ticket-%d", ticketID)
}

type Publisher interface {
	Publish(ctx context.Context, channel string, message any) error
}

type Config struct {
	PublishKey   string
	SubscribeKey string
	SecretKey    string
	UUID         string
}

// PubNubPublisher pushes live availability and reconciliation messages.
// Delivery is best effort.
type PubNubPublisher struct {
	pn *pubnub.PubNub
}

func NewPubNubPublisher(cfg Config) *PubNubPublisher {
	pnConfig := pubnub.NewConfig()
	pnConfig.PublishKey = cfg.PublishKey
	pnConfig.SubscribeKey = cfg.SubscribeKey
	pnConfig.SecretKey = cfg.SecretKey
	if cfg.UUID != "" {
		pnConfig.UUID = cfg.UUID
	}

	return &PubNubPublisher{pn: pubnub.NewPubNub(pnConfig)}
}

func (p *PubNubPublisher) Publish(ctx context.Context, channel string, message any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, _, err := p.pn.Publish().
		Channel(channel).
		Message(message).
		Execute()
	if err != nil {
		return fmt.Errorf("pubnub publish %s: %w", channel, err)
	}
	return nil
}

// Noop is used when no PubNub keys are configured.
type Noop struct {
	Logger *slog.Logger
}

func (n Noop) Publish(ctx context.Context, channel string, message any) error {
	if n.Logger != nil {
		n.Logger.Debug("notification dropped, publisher disabled", "channel", channel)
	}
	return nil
}

// New picks the PubNub publisher when keys are present.
func New(cfg Config, logger *slog.Logger) Publisher {
	if cfg.PublishKey == "" || cfg.SubscribeKey == "" {
		return Noop{Logger: logger}
	}
	return NewPubNubPublisher(cfg)
}
