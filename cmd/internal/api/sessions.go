package api

import (
	"context"
	"net/url"
	"strconv"

	v1 "argus/shared/contracts/stream/v1"
)

// CreateSession creates a detection session. A nil Config takes the backend defaults.
func (c *Client) CreateSession(ctx context.Context, in SessionCreate) (Session, error) {
	if in.Config != nil {
		if err := check(in.Config); err != nil {
			return Session{}, err
		}
	}
	var out Session
	err := c.post(ctx, "/sessions/", in, &out)
	return out, err
}

// ListSessions lists sessions, optionally filtered by owner.
func (c *Client) ListSessions(ctx context.Context, userID string) ([]Session, error) {
	var q url.Values
	if userID != "" {
		q = url.Values{"user_id": {userID}}
	}
	var out []Session
	err := c.get(ctx, "/sessions/", q, &out)
	return out, err
}

func (c *Client) GetSession(ctx context.Context, id string) (Session, error) {
	sid, err := pathID("session id", id)
	if err != nil {
		return Session{}, err
	}
	var out Session
	err = c.get(ctx, "/sessions/"+sid, nil, &out)
	return out, err
}

func (c *Client) UpdateSession(ctx context.Context, id string, in SessionUpdate) (Session, error) {
	sid, err := pathID("session id", id)
	if err != nil {
		return Session{}, err
	}
	if err := check(in); err != nil {
		return Session{}, err
	}
	var out Session
	err = c.patch(ctx, "/sessions/"+sid, in, &out)
	return out, err
}

func (c *Client) DeleteSession(ctx context.Context, id string) error {
	sid, err := pathID("session id", id)
	if err != nil {
		return err
	}
	return c.delete(ctx, "/sessions/"+sid, nil)
}

// AddROI appends a region to a session and returns the updated session.
func (c *Client) AddROI(ctx context.Context, id string, roi ROIRegion) (Session, error) {
	sid, err := pathID("session id", id)
	if err != nil {
		return Session{}, err
	}
	if roi.Type == "" {
		roi.Type = "polygon"
	}
	if err := check(roi); err != nil {
		return Session{}, err
	}
	var out Session
	err = c.post(ctx, "/sessions/"+sid+"/roi", roi, &out)
	return out, err
}

func (c *Client) RemoveROI(ctx context.Context, id, roiID string) (Session, error) {
	sid, err := pathID("session id", id)
	if err != nil {
		return Session{}, err
	}
	rid, err := pathID("roi id", roiID)
	if err != nil {
		return Session{}, err
	}
	var out Session
	err = c.delete(ctx, "/sessions/"+sid+"/roi/"+rid, &out)
	return out, err
}

// StartDetection starts detection. The backend answers 400 when no ROI is defined.
func (c *Client) StartDetection(ctx context.Context, id string) (Session, error) {
	return c.sessionAction(ctx, id, "/start")
}

func (c *Client) StopDetection(ctx context.Context, id string) (Session, error) {
	return c.sessionAction(ctx, id, "/stop")
}

func (c *Client) ResetStatistics(ctx context.Context, id string) (Session, error) {
	return c.sessionAction(ctx, id, "/statistics/reset")
}

func (c *Client) sessionAction(ctx context.Context, id, suffix string) (Session, error) {
	sid, err := pathID("session id", id)
	if err != nil {
		return Session{}, err
	}
	var out Session
	err = c.post(ctx, "/sessions/"+sid+suffix, nil, &out)
	return out, err
}

func (c *Client) Statistics(ctx context.Context, id string) (v1.Statistics, error) {
	sid, err := pathID("session id", id)
	if err != nil {
		return v1.Statistics{}, err
	}
	var out v1.Statistics
	err = c.get(ctx, "/sessions/"+sid+"/statistics", nil, &out)
	return out, err
}

// Results returns detection results, newest last. A zero Limit means 100.
func (c *Client) Results(ctx context.Context, id string, q ResultsQuery) ([]DetectionResult, error) {
	sid, err := pathID("session id", id)
	if err != nil {
		return nil, err
	}
	if err := check(q); err != nil {
		return nil, err
	}
	limit := q.Limit
	if limit == 0 {
		limit = 100
	}
	vals := url.Values{"limit": {strconv.Itoa(limit)}}
	if q.ROIID != "" {
		vals.Set("roi_id", q.ROIID)
	}
	var out []DetectionResult
	err = c.get(ctx, "/sessions/"+sid+"/results", vals, &out)
	return out, err
}

// Health calls GET /health relative to the API base.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var out Health
	err := c.get(ctx, "/health", nil, &out)
	return out, err
}
