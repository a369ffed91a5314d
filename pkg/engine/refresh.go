package engine

import (
	"context"
	"sort"

	"github.com/hpconf/hpconf/pkg/cfgerrors"
)

// MergeReport summarizes one ApplyPending call.
type MergeReport struct {
	Merged    int
	Fallbacks int
	Discarded int
}

// Refresh dispatches a remote call tagged with the current snapshot version
// and returns its task ID. Without a remote control the request completes
// immediately with the empty fallback value, except that a request with a
// Target fails with KindTransportUnavailable since there is nothing to write.
func (c *Controller) Refresh(ctx context.Context, req Request) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if req.Target != nil {
		if _, _, err := c.field(req.Target.Type, req.Target.ID, req.Target.Key); err != nil {
			return "", err
		}
	}

	if c.refresher == nil {
		if t := req.Target; t != nil {
			return "", cfgerrors.Newf(cfgerrors.KindTransportUnavailable, "no remote control configured for %s", req.Kind).
				WithSection(t.Type, t.ID).WithField(t.Key)
		}
		c.snap.SetExternal(req.ExternalKey(), "")
		c.logger.WithField("task", req.Kind).Warn("no remote control configured, using empty value")
		return "", nil
	}

	taskID := c.refresher.Dispatch(c.tel.WithContext(ctx), req, c.snap.Version())
	c.logger.WithField("task_id", taskID).
		WithField("kind", string(req.Kind)).
		WithField("version", c.snap.Version()).
		Debug("refresh dispatched")
	return taskID, nil
}

// ApplyPending merges the completed refresh results. A result is merged
// only if the snapshot version still equals the version it was dispatched
// at; older results are discarded. Failed calls merge the empty value.
// External values are merged before results that write fields. A merged
// field write bumps the version, so of several field writes dispatched at
// the same version only the first one applied is kept.
func (c *Controller) ApplyPending(ctx context.Context) MergeReport {
	c.mu.Lock()
	defer c.mu.Unlock()

	var report MergeReport
	if c.refresher == nil {
		return report
	}

	results := c.refresher.Completed()
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Request.Target == nil && results[j].Request.Target != nil
	})

	for _, res := range results {
		kind := string(res.Request.Kind)
		log := c.logger.WithField("task_id", res.TaskID).WithField("kind", kind)

		if version := c.snap.Version(); res.Version != version {
			report.Discarded++
			c.tel.Metrics.RecordRefreshDiscarded(kind)
			_ = c.tel.Events.RefreshApplied(c.sessionID, res.TaskID, kind, false, "stale snapshot version")
			log.WithField("dispatched", res.Version).WithField("current", version).Debug("stale refresh result discarded")
			continue
		}

		if res.Err != nil {
			report.Fallbacks++
			if res.Request.Target == nil {
				c.snap.SetExternal(res.Request.ExternalKey(), "")
			}
			_ = c.tel.Events.RefreshApplied(c.sessionID, res.TaskID, kind, false, res.Err.Error())
			if cfgerrors.IsKind(res.Err, cfgerrors.KindTransportUnavailable) {
				log.WithError(res.Err).Warn("remote call failed, using empty value")
			} else {
				log.WithError(res.Err).Error("remote call rejected, using empty value")
			}
			continue
		}

		if t := res.Request.Target; t != nil {
			if _, err := c.set(ctx, t.Type, t.ID, t.Key, []string{res.Value}); err != nil {
				report.Fallbacks++
				_ = c.tel.Events.RefreshApplied(c.sessionID, res.TaskID, kind, false, err.Error())
				log.WithError(err).Warn("refresh result rejected by validation")
				continue
			}
		} else {
			c.snap.SetExternal(res.Request.ExternalKey(), res.Value)
		}

		report.Merged++
		_ = c.tel.Events.RefreshApplied(c.sessionID, res.TaskID, kind, true, "")
	}

	if len(results) > 0 {
		c.logger.WithField("merged", report.Merged).
			WithField("fallbacks", report.Fallbacks).
			WithField("discarded", report.Discarded).
			Debug("refresh results applied")
	}
	return report
}

// Await waits for every dispatched refresh and merges the results.
func (c *Controller) Await(ctx context.Context) (MergeReport, error) {
	if c.refresher != nil {
		if err := c.refresher.Wait(ctx); err != nil {
			return MergeReport{}, cfgerrors.Wrap(cfgerrors.KindTransportUnavailable, "refresh did not complete", err)
		}
	}
	return c.ApplyPending(ctx), nil
}

// PendingRefreshes returns the number of refresh tasks still running.
func (c *Controller) PendingRefreshes() int {
	if c.refresher == nil {
		return 0
	}
	return c.refresher.Pending()
}
