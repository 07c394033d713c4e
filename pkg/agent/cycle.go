package agent

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hostsentry/agent/internal/models"
	"github.com/hostsentry/agent/pkg/classify"
	"github.com/hostsentry/agent/pkg/collector"
	"github.com/hostsentry/agent/pkg/diff"
)

// cycle returns the poll → diff → classify → enqueue function for one
// collector. The closure owns that category's previous snapshot, so no
// cross-category locking is needed: only this cycle ever touches it.
func (a *Agent) cycle(col collector.Collector) func(ctx context.Context) {
	var prev []models.Item
	primed := false

	return func(ctx context.Context) {
		snapshot, err := col.Poll(ctx)
		if err != nil {
			// Collector failure is isolated: this category's output is
			// simply unchanged this tick.
			a.logger.Error("collector poll failed",
				zap.String("collector", col.Name()), zap.Error(err))
			return
		}
		if snapshot == nil {
			return
		}

		if !primed {
			// First successful poll establishes the baseline; a fresh
			// agent does not alert on everything already running.
			prev = snapshot.Items
			primed = true
			a.logger.Debug("baseline established",
				zap.String("collector", col.Name()), zap.Int("items", len(snapshot.Items)))
			return
		}

		result := diff.Diff(prev, snapshot.Items, a.logger)
		prev = snapshot.Items
		if result.Empty() {
			return
		}

		for _, item := range result.Added {
			a.classifyAdded(snapshot.Category, item)
		}
		for _, item := range result.Changed {
			a.handleChanged(snapshot.Category, item)
		}
		for _, item := range result.Removed {
			// Removed items never escalate; they are recorded and that
			// is all.
			a.logger.Info("item disappeared from snapshot",
				zap.String("category", string(snapshot.Category)),
				zap.String("key", item.Key()))
		}
	}
}

// classifyAdded scores one newly appeared item and enqueues an event if
// any rule matched.
func (a *Agent) classifyAdded(category models.Category, item models.Item) {
	switch category {
	case models.CategoryProcess:
		proc, ok := item.(models.ProcessItem)
		if !ok {
			return
		}
		a.emit(category, item, a.classifier.Process(proc),
			fmt.Sprintf("suspicious process %s (pid %d)", proc.Name, proc.PID))
		if a.cfg.Capabilities.VulnerabilityScanning {
			a.emit(models.CategoryVulnerability, item, a.classifier.Vulnerability(proc),
				fmt.Sprintf("vulnerable software %s %s", proc.Name, proc.Version))
		}

	case models.CategoryNetwork:
		conn, ok := item.(models.ConnectionItem)
		if !ok {
			return
		}
		a.emit(category, item, a.classifier.Connection(conn),
			fmt.Sprintf("suspicious connection %s -> %s:%d", conn.LocalIP, conn.RemoteIP, conn.RemotePort))

	case models.CategoryPersistence:
		point, ok := item.(models.PersistencePointItem)
		if !ok {
			return
		}
		a.emit(category, item, a.classifier.Persistence(point),
			fmt.Sprintf("new persistence point %s", point.KeyPath))

	case models.CategoryFile:
		artifact, ok := item.(models.FileArtifact)
		if !ok {
			return
		}
		verdict := a.classifier.File(artifact)
		eventCategory := category
		if a.cfg.Capabilities.MalwareScanning && artifact.SHA256 != "" {
			eventCategory = models.CategoryMalware
		}
		a.emit(eventCategory, item, verdict,
			fmt.Sprintf("suspicious file %s", artifact.Path))
	}
}

// handleChanged processes items whose key survived but whose content
// moved. Only persistence points escalate on change: an edited autorun
// entry is as notable as a new one. Other categories log at debug.
func (a *Agent) handleChanged(category models.Category, item models.Item) {
	if category != models.CategoryPersistence {
		a.logger.Debug("item changed between snapshots",
			zap.String("category", string(category)), zap.String("key", item.Key()))
		return
	}
	point, ok := item.(models.PersistencePointItem)
	if !ok {
		return
	}
	verdict := a.classifier.Persistence(point)
	verdict.Reasons = append([]string{"persistence point content changed"}, verdict.Reasons...)
	a.emit(category, item, verdict,
		fmt.Sprintf("persistence point %s modified", point.KeyPath))
}

// emit enqueues an event for a suspicious verdict. Non-suspicious
// verdicts are dropped silently.
func (a *Agent) emit(category models.Category, item models.Item, verdict classify.Verdict, message string) {
	if !verdict.Suspicious {
		return
	}

	details := map[string]interface{}{
		"item":    item,
		"reasons": verdict.Reasons,
	}
	if verdict.Confidence > 0 {
		details["confidence"] = verdict.Confidence
	}

	dedupKey := fmt.Sprintf("%s|%s", category, item.Key())
	a.events.Enqueue(models.NewEvent(category, verdict.Severity, message, dedupKey, details))
	a.logger.Info("event enqueued",
		zap.String("category", string(category)),
		zap.String("severity", string(verdict.Severity)),
		zap.String("key", item.Key()))
}
