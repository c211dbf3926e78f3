package es

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/elastic/go-elasticsearch/v9"

	"github.com/Skotchmaster/autho/internal/events"
)

type Config struct {
	URL      string
	User     string
	Password string
	Index    string
}

// AuditIndex writes every auth event as a document, using the event id as
// the document id so retries do not duplicate.
type AuditIndex struct {
	client *elasticsearch.Client
	index  string
}

func NewClient(cfg Config) (*elasticsearch.Client, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.User,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("elasticsearch: new client: %w", err)
	}
	return client, nil
}

// NewAuditIndex connects and checks the cluster answers.
func NewAuditIndex(ctx context.Context, cfg Config) (*AuditIndex, error) {
	if cfg.Index == "" {
		return nil, fmt.Errorf("elasticsearch: index is required")
	}
	client, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}
	res, err := client.Info(client.Info.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("elasticsearch: info: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 1024))
		return nil, fmt.Errorf("elasticsearch: info: %s: %s", res.Status(), body)
	}
	return &AuditIndex{client: client, index: cfg.Index}, nil
}

func (a *AuditIndex) Publish(ctx context.Context, ev events.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("elasticsearch: marshal event: %w", err)
	}
	res, err := a.client.Index(a.index, bytes.NewReader(body),
		a.client.Index.WithContext(ctx),
		a.client.Index.WithDocumentID(ev.ID),
	)
	if err != nil {
		return fmt.Errorf("elasticsearch: index %s: %w", ev.Type, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("elasticsearch: index %s: %s", ev.Type, res.Status())
	}
	return nil
}

func (a *AuditIndex) Close() error { return nil }
