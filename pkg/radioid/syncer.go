// Package radioid keeps a local copy of the radio id directory so calls can
// be shown with a callsign.
package radioid

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dbehnke/dmr-gateway/pkg/database"
	"github.com/dbehnke/dmr-gateway/pkg/logger"
)

const (
	// DefaultURL is the RadioID user export
	DefaultURL = "https://radioid.net/static/user.csv"
	// DefaultInterval is how often the directory is downloaded again
	DefaultInterval = 24 * time.Hour
	// BatchSize for database upserts
	BatchSize = 1000
)

// Store receives the parsed directory
type Store interface {
	UpsertBatch(subs []database.Subscriber, batchSize int) error
	Count() (int64, error)
}

// Config configures a Syncer
type Config struct {
	URL      string
	Interval time.Duration
}

// Syncer downloads the directory on start and then periodically
type Syncer struct {
	cfg    Config
	store  Store
	logger *logger.Logger
	client *http.Client
}

// NewSyncer creates a new directory syncer
func NewSyncer(cfg Config, store Store, log *logger.Logger) *Syncer {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	return &Syncer{
		cfg:    cfg,
		store:  store,
		logger: log.WithComponent("radioid"),
		client: &http.Client{
			Timeout: 5 * time.Minute, // the export is large
		},
	}
}

// Start syncs immediately and then every interval until ctx is done
func (s *Syncer) Start(ctx context.Context) {
	if _, err := s.Sync(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("Failed to sync radio id directory on startup", logger.Error(err))
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Radio id syncer stopped")
			return
		case <-ticker.C:
			if _, err := s.Sync(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error("Failed to sync radio id directory", logger.Error(err))
			}
		}
	}
}

// Sync downloads, parses and stores the directory. It returns the number of
// entries parsed.
func (s *Syncer) Sync(ctx context.Context) (int, error) {
	start := time.Now()
	s.logger.Info("Downloading radio id directory", logger.String("url", s.cfg.URL))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.URL, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to download directory: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			s.logger.Warn("Failed to close response body", logger.Error(err))
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	subs, skipped, err := parseCSV(resp.Body, start)
	if err != nil {
		return 0, fmt.Errorf("failed to parse directory: %w", err)
	}
	if skipped > 0 {
		s.logger.Debug("Skipped malformed directory rows", logger.Int("rows", skipped))
	}

	if err := s.store.UpsertBatch(subs, BatchSize); err != nil {
		return 0, fmt.Errorf("failed to save directory: %w", err)
	}

	total, err := s.store.Count()
	if err != nil {
		s.logger.Warn("Failed to count subscribers", logger.Error(err))
	}
	s.logger.Info("Radio id directory sync complete",
		logger.Int("parsed", len(subs)),
		logger.Int64("total", total),
		logger.Duration("duration", time.Since(start)))

	return len(subs), nil
}

// columns of the export, located by header name
type columns struct {
	id, callsign, first, last, city, state, country int
}

func headerColumns(header []string) (columns, error) {
	c := columns{-1, -1, -1, -1, -1, -1, -1}
	for i, name := range header {
		switch strings.ToUpper(strings.TrimSpace(name)) {
		case "RADIO_ID":
			c.id = i
		case "CALLSIGN":
			c.callsign = i
		case "FIRST_NAME":
			c.first = i
		case "LAST_NAME":
			c.last = i
		case "CITY":
			c.city = i
		case "STATE":
			c.state = i
		case "COUNTRY":
			c.country = i
		}
	}
	if c.id < 0 || c.callsign < 0 {
		return c, fmt.Errorf("header lacks RADIO_ID or CALLSIGN: %v", header)
	}
	return c, nil
}

// parseCSV reads the RadioID export. Rows with a bad id or too few columns
// are skipped and counted.
func parseCSV(r io.Reader, now time.Time) ([]database.Subscriber, int, error) {
	reader := csv.NewReader(bufio.NewReader(r))
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read header: %w", err)
	}
	cols, err := headerColumns(header)
	if err != nil {
		return nil, 0, err
	}

	field := func(record []string, i int) string {
		if i < 0 || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	var subs []database.Subscriber
	skipped := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			skipped++
			continue
		}

		id, err := strconv.ParseUint(field(record, cols.id), 10, 32)
		if err != nil || id == 0 || field(record, cols.callsign) == "" {
			skipped++
			continue
		}

		name := strings.TrimSpace(field(record, cols.first) + " " + field(record, cols.last))
		subs = append(subs, database.Subscriber{
			RadioID:   uint32(id),
			Callsign:  field(record, cols.callsign),
			Name:      name,
			City:      field(record, cols.city),
			State:     field(record, cols.state),
			Country:   field(record, cols.country),
			UpdatedAt: now,
		})
	}

	return subs, skipped, nil
}
