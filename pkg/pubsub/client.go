// Package pubsub wraps the Pub/Sub v2 client used by the outbox relay.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/mdmvenezuela/mdm-backend/pkg/config"
	"github.com/mdmvenezuela/mdm-backend/pkg/logger"
)

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errTopicRequired     = errors.New("device events topic is required")
	errNotInitialized    = errors.New("pubsub client not initialized")
)

// admin is the handful of admin RPCs the client issues, keyed by full
// resource name.
type admin struct {
	getTopic        func(ctx context.Context, name string) error
	createTopic     func(ctx context.Context, name string) error
	getSubscription func(ctx context.Context, name string) error
}

type Client struct {
	client  *pubsub.Client
	project string
	cfg     config.PubSubConfig
	admin   admin
	logg    *logger.Logger
}

// NewClient connects to Pub/Sub and checks that the device events topic
// and, when configured, its subscription exist.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	project := strings.TrimSpace(gcp.ProjectID)
	if project == "" {
		return nil, errProjectIDRequired
	}
	if strings.TrimSpace(cfg.DeviceEventsTopic) == "" {
		return nil, errTopicRequired
	}

	ps, err := pubsub.NewClient(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}
	c := &Client{client: ps, project: project, cfg: cfg, admin: grpcAdmin(ps), logg: logg}
	if err := c.ensureConfigured(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}
	if logg != nil {
		logg.Info(logg.WithField(ctx, "topic", c.topicName(cfg.DeviceEventsTopic)), "pubsub client initialized")
	}
	return c, nil
}

func grpcAdmin(ps *pubsub.Client) admin {
	return admin{
		getTopic: func(ctx context.Context, name string) error {
			_, err := ps.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: name})
			return err
		},
		createTopic: func(ctx context.Context, name string) error {
			_, err := ps.TopicAdminClient.CreateTopic(ctx, &pubsubpb.Topic{Name: name})
			return err
		},
		getSubscription: func(ctx context.Context, name string) error {
			_, err := ps.SubscriptionAdminClient.GetSubscription(ctx, &pubsubpb.GetSubscriptionRequest{Subscription: name})
			return err
		},
	}
}

func (c *Client) ensureConfigured(ctx context.Context) error {
	topic := c.topicName(c.cfg.DeviceEventsTopic)
	err := c.admin.getTopic(ctx, topic)
	if status.Code(err) == codes.NotFound && c.cfg.CreateTopic {
		err = c.admin.createTopic(ctx, topic)
		if status.Code(err) == codes.AlreadyExists {
			err = nil
		}
		if err == nil && c.logg != nil {
			c.logg.Warn(c.logg.WithField(ctx, "topic", topic), "created missing pubsub topic")
		}
	}
	if err := describe("topic", topic, err); err != nil {
		return err
	}

	if sub := strings.TrimSpace(c.cfg.DeviceEventsSubscription); sub != "" {
		name := c.subscriptionName(sub)
		return describe("subscription", name, c.admin.getSubscription(ctx, name))
	}
	return nil
}

func describe(kind, name string, err error) error {
	switch {
	case err == nil:
		return nil
	case status.Code(err) == codes.NotFound:
		return fmt.Errorf("%s %s does not exist", kind, name)
	default:
		return fmt.Errorf("checking %s %s: %w", kind, name, err)
	}
}

// Publisher returns a publisher for a topic id or full resource name.
func (c *Client) Publisher(topic string) *pubsub.Publisher {
	if c == nil || c.client == nil || strings.TrimSpace(topic) == "" {
		return nil
	}
	return c.client.Publisher(c.topicName(topic))
}

// Ping re-runs the startup topic and subscription checks.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errNotInitialized
	}
	return c.ensureConfigured(ctx)
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func (c *Client) topicName(id string) string { return resourceName(c.project, "topics", id) }

func (c *Client) subscriptionName(id string) string {
	return resourceName(c.project, "subscriptions", id)
}

// resourceName expands a bare id to projects/<project>/<kind>/<id>; full
// resource names pass through.
func resourceName(project, kind, id string) string {
	id = strings.TrimSpace(id)
	if strings.HasPrefix(id, "projects/") && strings.Contains(id, "/"+kind+"/") {
		return id
	}
	return "projects/" + project + "/" + kind + "/" + id
}
