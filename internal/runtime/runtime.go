package runtime

import (
	"fmt"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/coderunr/evaluator/internal/types"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultLanguage is the only dialect the engine compiles
	DefaultLanguage = "typescript"

	// DialectVersion is the TypeScript language level accepted by the lowering toolchain
	DialectVersion = "5.4.0"

	// Target is the executable dialect level
	Target = "es2015"
)

var logger = logrus.WithField("component", "runtime")

// Manager holds the registered runtimes
type Manager struct {
	mutex    sync.RWMutex
	runtimes []types.Runtime
}

// NewManager creates a runtime manager with the TypeScript dialect registered
func NewManager() *Manager {
	m := &Manager{}
	if err := m.Register(DefaultLanguage, DialectVersion, Target, "ts", "typescript", "tsx"); err != nil {
		// constants above are valid
		panic(err)
	}
	return m
}

// Register adds a runtime
func (m *Manager) Register(language, version, target string, aliases ...string) error {
	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("failed to parse version %s: %w", version, err)
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.runtimes = append(m.runtimes, types.Runtime{
		Language: language,
		Version:  v,
		Aliases:  aliases,
		Target:   target,
	})

	logger.Debugf("Registered runtime %s-%s", language, v)
	return nil
}

// GetRuntimes returns all registered runtimes
func (m *Manager) GetRuntimes() []types.Runtime {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	result := make([]types.Runtime, len(m.runtimes))
	copy(result, m.runtimes)
	return result
}

// Resolve finds the latest runtime matching language and version constraint.
// An empty language selects the default dialect, an empty version matches any.
func (m *Manager) Resolve(language, version string) (*types.Runtime, error) {
	if language == "" {
		language = DefaultLanguage
	}
	if version == "" {
		version = "*"
	}

	constraint, err := semver.NewConstraint(version)
	if err != nil {
		return nil, fmt.Errorf("invalid version constraint: %w", err)
	}

	language = strings.ToLower(language)

	m.mutex.RLock()
	defer m.mutex.RUnlock()

	var candidates []types.Runtime
	for _, rt := range m.runtimes {
		// Check if language matches (either language name or alias)
		if rt.Language == language || contains(rt.Aliases, language) {
			if constraint.Check(rt.Version) {
				candidates = append(candidates, rt)
			}
		}
	}

	if len(candidates) == 0 {
		return nil, fmt.Errorf("no runtime found for %s-%s", language, version)
	}

	// Find the latest version
	latest := candidates[0]
	for _, candidate := range candidates[1:] {
		if candidate.Version.GreaterThan(latest.Version) {
			latest = candidate
		}
	}

	return &latest, nil
}

// contains checks if a slice contains a string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
