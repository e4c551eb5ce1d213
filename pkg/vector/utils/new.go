// Package vectorutils constructs vector drivers from configuration.
package vectorutils

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/papercomputeco/finsight/pkg/vector"
	"github.com/papercomputeco/finsight/pkg/vector/chroma"
	"github.com/papercomputeco/finsight/pkg/vector/inmemory"
	"github.com/papercomputeco/finsight/pkg/vector/qdrant"
	"github.com/papercomputeco/finsight/pkg/vector/sqlitevec"
)

// Supported vector store providers.
const (
	ProviderMemory = "memory"
	ProviderSQLite = "sqlite"
	ProviderChroma = "chroma"
	ProviderQdrant = "qdrant"
)

// Providers lists every supported provider name.
var Providers = []string{ProviderMemory, ProviderSQLite, ProviderChroma, ProviderQdrant}

type NewVectorDriverOpts struct {
	ProviderType string

	// TargetURL is a file path for sqlite, a URL for chroma, and host:port
	// (optionally with an http or https scheme) for qdrant.
	TargetURL string

	Collection string
	Dimensions int
	APIKey     string
	Logger     *slog.Logger
}

func NewVectorDriver(ctx context.Context, o *NewVectorDriverOpts) (vector.Driver, error) {
	switch o.ProviderType {
	case ProviderMemory:
		return inmemory.NewDriver(o.Dimensions), nil
	case ProviderSQLite:
		return sqlitevec.NewDriver(sqlitevec.Config{
			DBPath:     o.TargetURL,
			Dimensions: o.Dimensions,
		}, o.Logger)
	case ProviderChroma:
		return chroma.NewDriver(chroma.Config{
			URL:            o.TargetURL,
			CollectionName: o.Collection,
			MaxRetries:     5,
			RetryDelay:     time.Second,
			MaxRetryDelay:  10 * time.Second,
		}, o.Logger)
	case ProviderQdrant:
		cfg, err := qdrantConfig(o.TargetURL)
		if err != nil {
			return nil, err
		}
		cfg.APIKey = o.APIKey
		cfg.Collection = o.Collection
		cfg.Dimensions = o.Dimensions
		return qdrant.NewDriver(ctx, cfg, o.Logger)
	default:
		return nil, fmt.Errorf("unsupported vector store provider: %s", o.ProviderType)
	}
}

func qdrantConfig(target string) (qdrant.Config, error) {
	cfg := qdrant.Config{Port: qdrant.DefaultPort}
	if target == "" {
		return cfg, fmt.Errorf("qdrant target is required")
	}

	hostport := target
	if strings.Contains(target, "://") {
		u, err := url.Parse(target)
		if err != nil {
			return cfg, fmt.Errorf("parsing qdrant target %q: %w", target, err)
		}
		cfg.UseTLS = u.Scheme == "https"
		hostport = u.Host
	}

	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		cfg.Host = hostport
		return cfg, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return cfg, fmt.Errorf("invalid qdrant port %q", portStr)
	}
	cfg.Host = host
	cfg.Port = port
	return cfg, nil
}
