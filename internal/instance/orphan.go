package instance

import (
	"context"
	"time"

	"github.com/talkincode/wafleet/internal/gateway"
	"github.com/talkincode/wafleet/pkg/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// OrphanReport totals one orphan scan. When the orphan set exceeded the
// async threshold the deletions continue in the background and Started is
// true with zero Deleted/Failed counts.
type OrphanReport struct {
	OrphanedFound int  `json:"orphaned_found"`
	Deleted       int  `json:"deleted"`
	Failed        int  `json:"failed"`
	Started       bool `json:"started,omitempty"`
}

// OrphanScanner finds remote gateway instances with no local record and
// deletes them. Remote is compared against local by name; the local store
// is authoritative.
type OrphanScanner struct {
	registry       *Registry
	gw             gateway.API
	asyncThreshold int

	group singleflight.Group
}

func NewOrphanScanner(registry *Registry, gw gateway.API, asyncThreshold int) *OrphanScanner {
	if asyncThreshold <= 0 {
		asyncThreshold = 10
	}
	return &OrphanScanner{
		registry:       registry,
		gw:             gw,
		asyncThreshold: asyncThreshold,
	}
}

// Scan runs one orphan sweep. Concurrent callers share a single in-flight
// scan instead of each listing the remote.
func (s *OrphanScanner) Scan(ctx context.Context) (*OrphanReport, error) {
	v, err, _ := s.group.Do("orphan-scan", func() (interface{}, error) {
		return s.scan(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*OrphanReport), nil
}

func (s *OrphanScanner) scan(ctx context.Context) (*OrphanReport, error) {
	remote, err := s.gw.ListInstances(ctx)
	if err != nil {
		return nil, err
	}
	local, err := s.registry.List(ctx)
	if err != nil {
		return nil, err
	}

	known := make(map[string]struct{}, len(local))
	for i := range local {
		known[local[i].Name] = struct{}{}
	}

	var orphans []string
	for i := range remote {
		if remote[i].Name == "" {
			continue
		}
		if _, ok := known[remote[i].Name]; !ok {
			orphans = append(orphans, remote[i].Name)
		}
	}

	report := &OrphanReport{OrphanedFound: len(orphans)}
	if len(orphans) == 0 {
		return report, nil
	}

	if len(orphans) > s.asyncThreshold {
		report.Started = true
		go func() {
			bctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			defer cancel()
			deleted, failed := s.deleteAll(bctx, orphans)
			zap.L().Info("async orphan cleanup finished",
				zap.Int("deleted", deleted), zap.Int("failed", failed))
		}()
		zap.L().Info("orphan cleanup started in background",
			zap.Int("orphans", len(orphans)))
		return report, nil
	}

	report.Deleted, report.Failed = s.deleteAll(ctx, orphans)
	return report, nil
}

func (s *OrphanScanner) deleteAll(ctx context.Context, names []string) (deleted, failed int) {
	for _, name := range names {
		// no local record exists, so only the remote side is removed
		if err := s.gw.DeleteInstance(ctx, name); err != nil {
			failed++
			zap.L().Warn("orphan delete failed",
				zap.String("instance", name), zap.Error(err))
			continue
		}
		deleted++
		metrics.IncrCounter(metrics.OrphansDeleted, 1)
		zap.L().Info("orphan deleted", zap.String("instance", name))
	}
	return deleted, failed
}

// RemoteCleanup delegates orphan removal to the gateway's own cleanup
// endpoint instead of diffing locally.
func (s *OrphanScanner) RemoteCleanup(ctx context.Context) (*gateway.OrphanCleanupResult, error) {
	return s.gw.CleanupRemoteOrphans(ctx)
}
