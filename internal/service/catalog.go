package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/coderunr/evaluator/internal/config"
	"github.com/coderunr/evaluator/internal/types"
)

var (
	// ErrCatalogDisabled is returned when no catalog_url is configured
	ErrCatalogDisabled = errors.New("challenge catalog is not configured")

	// ErrChallengeNotFound is returned for unknown challenge IDs
	ErrChallengeNotFound = errors.New("challenge not found")
)

// CatalogService is a read-only client for the challenge catalog
type CatalogService struct {
	source string
	client *http.Client
	logger *logrus.Logger

	mutex      sync.RWMutex
	challenges map[string]*types.Challenge
	order      []string
}

// NewCatalogService creates a new catalog service
func NewCatalogService(cfg *config.Config, logger *logrus.Logger) *CatalogService {
	return &CatalogService{
		source: cfg.CatalogURL,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: logger,
	}
}

// Enabled reports whether a catalog source is configured
func (cs *CatalogService) Enabled() bool {
	return cs.source != ""
}

// List returns all challenges in catalog order, loading them on first use
func (cs *CatalogService) List(ctx context.Context) ([]*types.Challenge, error) {
	if err := cs.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	cs.mutex.RLock()
	defer cs.mutex.RUnlock()

	result := make([]*types.Challenge, 0, len(cs.order))
	for _, id := range cs.order {
		result = append(result, cs.challenges[id])
	}
	return result, nil
}

// Get returns the challenge with the given ID
func (cs *CatalogService) Get(ctx context.Context, id string) (*types.Challenge, error) {
	if err := cs.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	cs.mutex.RLock()
	defer cs.mutex.RUnlock()

	challenge, ok := cs.challenges[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrChallengeNotFound, id)
	}
	return challenge, nil
}

// Refresh reloads the catalog from its source
func (cs *CatalogService) Refresh(ctx context.Context) error {
	if !cs.Enabled() {
		return ErrCatalogDisabled
	}

	cs.logger.Debugf("Fetching challenge catalog from %s", cs.source)

	raw, err := cs.fetch(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch challenge catalog: %w", err)
	}

	var records []*types.Challenge
	if err := json.Unmarshal(raw, &records); err != nil {
		return fmt.Errorf("failed to parse challenge catalog: %w", err)
	}

	challenges := make(map[string]*types.Challenge, len(records))
	order := make([]string, 0, len(records))
	for _, record := range records {
		if record == nil || record.ID == "" {
			cs.logger.Warn("Skipping challenge without id")
			continue
		}
		if _, exists := challenges[record.ID]; exists {
			cs.logger.Warnf("Skipping duplicate challenge %s", record.ID)
			continue
		}
		if record.EntryPoint != "" && !config.IsIdentifier(record.EntryPoint) {
			cs.logger.Warnf("Skipping challenge %s with invalid entry point %q", record.ID, record.EntryPoint)
			continue
		}
		challenges[record.ID] = record
		order = append(order, record.ID)
	}

	cs.mutex.Lock()
	cs.challenges = challenges
	cs.order = order
	cs.mutex.Unlock()

	cs.logger.Debugf("Loaded %d challenges", len(order))
	return nil
}

// Info summarizes challenges for listings, sorted by ID
func Info(challenges []*types.Challenge) []types.ChallengeInfo {
	infos := make([]types.ChallengeInfo, 0, len(challenges))
	for _, c := range challenges {
		infos = append(infos, types.ChallengeInfo{
			ID:         c.ID,
			Title:      c.Title,
			Difficulty: c.Difficulty,
			TestCount:  len(c.TestCases),
		})
	}
	sort.SliceStable(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

func (cs *CatalogService) ensureLoaded(ctx context.Context) error {
	cs.mutex.RLock()
	loaded := cs.challenges != nil
	cs.mutex.RUnlock()

	if loaded {
		return nil
	}
	return cs.Refresh(ctx)
}

// fetch reads the raw catalog from an http(s) URL or a local file
func (cs *CatalogService) fetch(ctx context.Context) ([]byte, error) {
	if !strings.HasPrefix(cs.source, "http://") && !strings.HasPrefix(cs.source, "https://") {
		return os.ReadFile(strings.TrimPrefix(cs.source, "file://"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cs.source, nil)
	if err != nil {
		return nil, err
	}

	resp, err := cs.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog returned status: %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}
